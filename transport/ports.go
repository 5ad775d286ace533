package transport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
)

// ListPorts returns a best-effort list of available serial port device names,
// sorted and de-duplicated.
//
// Supported:
// - Windows: COM ports (e.g. "COM3")
// - Linux: /dev/ttyUSB*, /dev/ttyACM*, etc
// - macOS (darwin): /dev/cu.* and /dev/tty.*
func ListPorts() []string {
	// Cross-platform enumerator first; globs only when it comes up empty.
	if ports, err := enumerator.GetDetailedPortsList(); err == nil && len(ports) > 0 {
		out := make([]string, 0, len(ports))
		seen := make(map[string]struct{}, len(ports))
		for _, p := range ports {
			if p == nil || p.Name == "" {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, p.Name)
		}
		sort.Strings(out)
		return out
	}

	switch runtime.GOOS {
	case "windows":
		out := make([]string, 0, 16)
		for i := 1; i <= 64; i++ {
			out = append(out, fmt.Sprintf("COM%d", i))
		}
		return out
	case "darwin":
		return listByGlob("/dev/cu.*", "/dev/tty.*")
	default:
		return listByGlob("/dev/ttyUSB*", "/dev/ttyACM*", "/dev/tty.*")
	}
}

// listByGlob expands filesystem glob patterns into a stable, de-duplicated
// list, skipping entries that vanished between glob and stat.
func listByGlob(patterns ...string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 16)
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			if m == "" {
				continue
			}
			if _, err := os.Stat(m); err != nil {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// AutoDetectPort finds a serial port with a responsive instrument on it.
// The configured port is probed first so the fast path stays deterministic
// when several ports are available.
func AutoDetectPort(s Settings, probe ProbeFunc) string {
	p, _ := AutoDetectPortTrace(s, probe)
	return p
}

// AutoDetectPortTrace is AutoDetectPort plus a trace of what was tried,
// for surfacing in logs or the monitor UI.
func AutoDetectPortTrace(s Settings, probe ProbeFunc) (string, []string) {
	if probe == nil {
		probe = ModeInquiryProbe
	}
	trace := make([]string, 0, 8)
	preferred := strings.TrimSpace(s.Device)

	if preferred != "" {
		trace = append(trace, fmt.Sprintf("autodetect: probing configured port %q (baud=%d)", preferred, s.Baud))
		if TestPort(preferred, s.Baud, probe) {
			trace = append(trace, fmt.Sprintf("autodetect: found instrument on configured port %q", preferred))
			return preferred, trace
		}
	}

	ports := ListPorts()
	trace = append(trace, fmt.Sprintf("autodetect: enumerated %d ports: %v", len(ports), ports))
	for _, name := range ports {
		if preferred != "" && strings.EqualFold(strings.TrimSpace(name), preferred) {
			continue
		}
		trace = append(trace, fmt.Sprintf("autodetect: probing %s", name))
		if TestPort(name, s.Baud, probe) {
			trace = append(trace, fmt.Sprintf("autodetect: found instrument on %s", name))
			return name, trace
		}
	}
	trace = append(trace, "autodetect: no port responded to the probe")
	return "", trace
}

// ProbeFunc decides whether the bytes read back after a probe write look
// like the instrument. Returns the bytes to write and a recognizer.
type ProbeFunc func() (inquiry []byte, recognize func(resp []byte) bool)

// ModeInquiryProbe probes with the verbose mode inquiry; any acknowledged
// response marks the port as ours.
func ModeInquiryProbe() ([]byte, func([]byte) bool) {
	return []byte("II"), func(resp []byte) bool {
		return bytes.Contains(resp, []byte{0x06, 0x06})
	}
}

// TestPort opens a port and runs the probe twice. The first attempt can
// lose its response to driver buffering or device wakeup.
func TestPort(name string, baud int, probe ProbeFunc) bool {
	p, err := Open(Settings{Device: name, Baud: baud, ReadTimeout: 300 * time.Millisecond})
	if err != nil {
		return false
	}
	defer func() { _ = p.Close() }()

	inquiry, recognize := probe()
	time.Sleep(40 * time.Millisecond)

	for attempt := 0; attempt < 2; attempt++ {
		if err := p.Send(inquiry); err != nil {
			return false
		}
		if resp := p.readBurst(500 * time.Millisecond); recognize(resp) {
			return true
		}
		time.Sleep(80 * time.Millisecond)
	}
	return false
}

// readBurst collects whatever arrives on the line within the window.
func (p *Port) readBurst(window time.Duration) []byte {
	deadline := time.Now().Add(window)
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := p.sp.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	return buf
}
