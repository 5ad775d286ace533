// Command `driverd` runs the instrument driver daemon for Nortek Aquadopp
// family current meters.
//
// It connects to the instrument over a serial line, discovers the protocol
// state, publishes decoded sample envelopes over a local WebSocket monitor,
// and exposes a JSON API to set parameters and run protocol operations.
//
// Flags:
//
//	-config:  path to config.json (serial line, schedules, snapshot)
//	-port:    serial device override (skips auto-detect)
//	-addr:    monitor listen address override
//	-log:     append sample envelopes to this JSONL file
//	-console: interactive direct-access console on the terminal
package main

import (
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/marhydro/oceandrv/file"
	"github.com/marhydro/oceandrv/internal/server"
	"github.com/marhydro/oceandrv/models"
	"github.com/marhydro/oceandrv/nortek"
	"github.com/marhydro/oceandrv/protocol"
	"github.com/marhydro/oceandrv/qc"
	"github.com/marhydro/oceandrv/sample"
	"github.com/marhydro/oceandrv/transport"
	"github.com/marhydro/oceandrv/ui"
)

func main() {
	var (
		configPath = flag.String("config", "config.json", "path to driver config")
		port       = flag.String("port", "", "serial device (overrides config and auto-detect)")
		addr       = flag.String("addr", "", "monitor listen address (overrides config)")
		logPath    = flag.String("log", "", "append sample envelopes to this file")
		console    = flag.Bool("console", false, "interactive direct-access console")
	)
	flag.Parse()

	params, err := file.LoadParameters(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("WARN: %v; starting with defaults", err)
		}
		params = &models.PARAMETERS{}
		params.Normalize()
	}
	if *port != "" {
		params.SERIAL.PORT = *port
	}
	if *addr != "" {
		params.MONITOR.ADDR = *addr
	}

	clockEvery, err := params.SCHEDULE.ClockSyncInterval()
	if err != nil {
		log.Fatalf("Bad schedule: %v", err)
	}
	statusEvery, err := params.SCHEDULE.AcquireStatusInterval()
	if err != nil {
		log.Fatalf("Bad schedule: %v", err)
	}

	device := resolvePort(params)
	if device == "" {
		log.Fatal("No serial port found; set SERIAL.PORT or use -port")
	}

	line, err := transport.Open(transport.Settings{
		Device: device, Baud: params.SERIAL.BAUDRATE})
	if err != nil {
		log.Fatalf("Serial: %v", err)
	}
	defer func() { _ = line.Close() }()
	log.Printf("Serial:  %s @ %d baud", device, params.SERIAL.BAUDRATE)

	profile := nortek.NewProfile()
	profile.ClockSyncInterval = clockEvery
	profile.AcquireStatusInterval = statusEvery

	sched := protocol.NewTickerScheduler()
	defer sched.Stop()
	machine := protocol.New(profile, line, sched, log.Default())

	mon := server.New(machine)
	screen := qc.NewMonitor()
	machine.Publish = func(rec *sample.Record) {
		screen.Observe(rec)
		mon.PublishSample(rec)
		if *logPath != "" {
			if env, err := rec.Envelope(); err == nil {
				if err := file.AppendJSONLine(*logPath, env); err != nil {
					log.Printf("WARN: sample log: %v", err)
				}
			}
		}
	}
	machine.OnStateChange = func(st protocol.State) {
		log.Printf("State:   %s", st)
		mon.NotifyState(st)
	}
	machine.OnConfigChange = func(changed map[string]interface{}) {
		mon.NotifyConfig(changed)
		// the callback runs inside the machine's transaction; encode the
		// snapshot after it completes
		go persistSnapshot(*configPath, params, machine)
	}

	// pump the serial line into the protocol engine
	go func() {
		if err := line.Run(machine.OnBytes); err != nil {
			log.Fatalf("Serial read loop: %v", err)
		}
	}()

	st, err := machine.Discover()
	if err != nil {
		log.Fatalf("Discover: %v", err)
	}
	log.Printf("State:   %s", st)
	mon.NotifyState(st)
	persistSnapshot(*configPath, params, machine)

	if *console {
		runConsole(machine)
		return
	}

	ln, err := net.Listen("tcp", params.MONITOR.ADDR)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", params.MONITOR.ADDR, err)
	}
	log.Printf("Monitor: http://%s", params.MONITOR.ADDR)
	if err := http.Serve(ln, mon); err != nil {
		log.Fatal(err)
	}
}

// resolvePort picks the serial device: explicit config first, then the port
// cache, then an auto-detect scan whose result is cached for next time.
func resolvePort(params *models.PARAMETERS) string {
	cache := server.NewPortCache(cachePath())
	key := server.ConfigKey(params)

	settings := transport.Settings{
		Device: params.SERIAL.PORT, Baud: params.SERIAL.BAUDRATE}
	if settings.Device == "" {
		settings.Device = cache.Get(key)
	}

	device, trace := transport.AutoDetectPortTrace(settings, nil)
	for _, line := range trace {
		log.Print(line)
	}
	if device != "" {
		cache.Set(key, device)
	}
	return device
}

func cachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".oceandrv", "ports.json")
}

// persistSnapshot writes the instrument's current configuration record back
// into config.json so the next start can diff against it.
func persistSnapshot(path string, params *models.PARAMETERS, m *protocol.Machine) {
	raw, err := m.Config().Encode()
	if err != nil {
		return
	}
	params.SetSnapshot(raw)
	if err := file.PersistParameters(path, params); err != nil {
		log.Printf("WARN: %v", err)
	}
}

// runConsole gives the operator a raw terminal into the instrument. Keys go
// to the device byte for byte; ESC leaves direct access and restores the
// parameter snapshot.
func runConsole(m *protocol.Machine) {
	if err := m.StartDirect(); err != nil {
		log.Fatalf("Direct access: %v", err)
	}

	ui.Greenf("Direct access console; press ESC to exit\n")
	ui.DrainKeys()
	keys := ui.StartKeyEvents()
	for ch := range keys {
		if ch == ui.KeyEsc {
			break
		}
		if err := m.ExecuteDirect([]byte(string(ch))); err != nil {
			ui.Warningf("direct write failed: %v\n", err)
			break
		}
	}

	st, err := m.StopDirect()
	if err != nil {
		ui.Warningf("leaving direct access: %v\n", err)
	}
	log.Printf("State:   %s", st)
	// let any trailing output drain before the port closes
	time.Sleep(200 * time.Millisecond)
}
