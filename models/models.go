// Package models defines the JSON-serialized configuration structures shared
// between the driver daemon and its tooling.
//
// These types mirror the shape of `config.json` exchanged with the monitor UI
// and persisted between runs.
package models

import (
	"encoding/base64"
	"fmt"
	"time"
)

// PARAMETERS is the root of the on-disk driver configuration.
type PARAMETERS struct {
	SERIAL   *SERIAL   `json:"SERIAL"`
	SCHEDULE *SCHEDULE `json:"SCHEDULE,omitempty"`
	MONITOR  *MONITOR  `json:"MONITOR,omitempty"`

	// SNAPSHOT is the last known instrument user configuration, base64 of
	// the raw 512-byte record, persisted so a restart can diff against it.
	SNAPSHOT string `json:"SNAPSHOT,omitempty"`

	DEBUG bool `json:"DEBUG"`
}

// SERIAL contains the serial-port connection settings used to communicate
// with the instrument.
type SERIAL struct {
	PORT     string `json:"PORT"`
	BAUDRATE int    `json:"BAUDRATE"`
}

// SCHEDULE holds the background maintenance cadence. Values are Go duration
// strings; empty or "0" disables a job.
type SCHEDULE struct {
	CLOCKSYNC     string `json:"CLOCKSYNC,omitempty"`
	ACQUIRESTATUS string `json:"ACQUIRESTATUS,omitempty"`
}

// MONITOR configures the websocket monitor endpoint.
type MONITOR struct {
	ADDR string `json:"ADDR"`
}

// Normalize fills absent sections and defaults so callers never nil-check.
func (p *PARAMETERS) Normalize() {
	if p.SERIAL == nil {
		p.SERIAL = &SERIAL{}
	}
	if p.SERIAL.BAUDRATE == 0 {
		p.SERIAL.BAUDRATE = 9600
	}
	if p.SCHEDULE == nil {
		p.SCHEDULE = &SCHEDULE{}
	}
	if p.MONITOR == nil {
		p.MONITOR = &MONITOR{ADDR: ":8585"}
	}
	if p.MONITOR.ADDR == "" {
		p.MONITOR.ADDR = ":8585"
	}
}

// ClockSyncInterval parses the configured clock sync cadence; zero disables.
func (s *SCHEDULE) ClockSyncInterval() (time.Duration, error) {
	return parseInterval("CLOCKSYNC", s.CLOCKSYNC)
}

// AcquireStatusInterval parses the status cadence; zero disables.
func (s *SCHEDULE) AcquireStatusInterval() (time.Duration, error) {
	return parseInterval("ACQUIRESTATUS", s.ACQUIRESTATUS)
}

func parseInterval(key, raw string) (time.Duration, error) {
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative interval %s", key, d)
	}
	return d, nil
}

// SetSnapshot stores a raw instrument configuration record.
func (p *PARAMETERS) SetSnapshot(raw []byte) {
	p.SNAPSHOT = base64.StdEncoding.EncodeToString(raw)
}

// Snapshot returns the stored configuration record, nil when absent.
func (p *PARAMETERS) Snapshot() ([]byte, error) {
	if p.SNAPSHOT == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(p.SNAPSHOT)
	if err != nil {
		return nil, fmt.Errorf("SNAPSHOT: %w", err)
	}
	return raw, nil
}
