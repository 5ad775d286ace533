// Package file provides helpers for persisting configuration and sample
// logs to disk.
//
// The package is a thin shim around JSON read/write and text append, plus a
// few convenience type aliases for the shared `models` structs.
package file

import (
	"encoding/json"
	"fmt"
	"os"

	models "github.com/marhydro/oceandrv/models"
)

// Re-export config types from `models` so callers can import `file` and
// still use PARAMETERS/SERIAL names.
type PARAMETERS = models.PARAMETERS
type SERIAL = models.SERIAL
type SCHEDULE = models.SCHEDULE
type MONITOR = models.MONITOR

// LoadParameters reads and normalizes the JSON config at path.
func LoadParameters(path string) (*PARAMETERS, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	p := &PARAMETERS{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	p.Normalize()
	return p, nil
}

// PersistParameters overwrites the JSON file at path with the provided
// parameters.
//
// This is primarily used to persist runtime-updated values (like an
// auto-detected SERIAL.PORT or a fresh instrument SNAPSHOT) back into the
// on-disk config.
func PersistParameters(path string, parameters *PARAMETERS) error {
	data, err := json.MarshalIndent(parameters, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write parameters file: %w", err)
	}
	return nil
}

// AppendJSONLine appends one JSON-encoded value plus newline to file,
// creating it if it does not exist. Used for the sample envelope log.
func AppendJSONLine(file string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log for append: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append log line: %w", err)
	}
	return nil
}
