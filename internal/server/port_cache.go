package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marhydro/oceandrv/models"
)

// PortCache remembers the last serial port that answered for a given
// deployment configuration.
//
// Deployment configs travel between machines with a blank or stale
// SERIAL.PORT, so without the cache every start would pay for a full
// auto-detect scan.
type PortCache struct {
	mu    sync.Mutex
	path  string
	ports map[string]string
}

// NewPortCache opens the cache file at path. A missing or unreadable file
// yields an empty cache; an empty path disables persistence.
func NewPortCache(path string) *PortCache {
	pc := &PortCache{path: path, ports: map[string]string{}}
	if raw, err := os.ReadFile(path); err == nil {
		var m map[string]string
		if json.Unmarshal(raw, &m) == nil && m != nil {
			pc.ports = m
		}
	}
	return pc
}

// Get returns the cached port for key, or "".
func (pc *PortCache) Get(key string) string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return strings.TrimSpace(pc.ports[key])
}

// Set records port as the working device for key and persists the cache.
func (pc *PortCache) Set(key, port string) {
	key = strings.TrimSpace(key)
	port = strings.TrimSpace(port)
	if key == "" || port == "" {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if strings.EqualFold(pc.ports[key], port) {
		return
	}
	pc.ports[key] = port
	pc.flushLocked()
}

// flushLocked writes the cache file best effort. Cache loss only costs one
// auto-detect scan, so every failure path is silent.
func (pc *PortCache) flushLocked() {
	if pc.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(pc.path), 0o755); err != nil {
		return
	}
	raw, err := json.MarshalIndent(pc.ports, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(pc.path, raw, 0o644)
}

// ConfigKey returns a stable identifier for a deployment setup. It
// intentionally excludes SERIAL.PORT so a blank or stale port still maps to
// the same key; the snapshot ties the key to one instrument's configuration.
func ConfigKey(p *models.PARAMETERS) string {
	if p == nil || p.SERIAL == nil {
		return ""
	}
	payload := struct {
		Baud     int    `json:"baud"`
		Snapshot string `json:"snapshot,omitempty"`
	}{
		Baud:     p.SERIAL.BAUDRATE,
		Snapshot: p.SNAPSHOT,
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
