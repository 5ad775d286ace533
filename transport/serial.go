package transport

import (
	"fmt"
	"sync"
	"time"

	goserial "github.com/tarm/serial"
)

// Settings describes the serial line to the instrument. Nortek current
// meters ship at 9600 8N1.
type Settings struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// DefaultSettings returns the factory line configuration for device.
func DefaultSettings(device string) Settings {
	return Settings{Device: device, Baud: 9600, ReadTimeout: 100 * time.Millisecond}
}

// Port is an open serial connection. Send may be called from any goroutine;
// received bytes are pumped to a single sink by Run.
type Port struct {
	mu sync.Mutex
	sp *goserial.Port

	name   string
	closed chan struct{}
	once   sync.Once
}

// Open opens the serial device described by s.
func Open(s Settings) (*Port, error) {
	if s.Baud == 0 {
		s.Baud = 9600
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 100 * time.Millisecond
	}
	cfg := &goserial.Config{
		Name:        s.Device,
		Baud:        s.Baud,
		Size:        8,
		Parity:      goserial.ParityNone,
		StopBits:    goserial.Stop1,
		ReadTimeout: s.ReadTimeout,
	}
	sp, err := goserial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Device, err)
	}
	return &Port{sp: sp, name: s.Device, closed: make(chan struct{})}, nil
}

// Name reports the device path this port was opened on.
func (p *Port) Name() string { return p.name }

// Send writes the full payload to the line.
func (p *Port) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(data) > 0 {
		n, err := p.sp.Write(data)
		if err != nil {
			return fmt.Errorf("write %s: %w", p.name, err)
		}
		data = data[n:]
	}
	return nil
}

// Run reads the line until Close and hands every burst of bytes to sink
// together with its arrival time. Read timeouts are idle polls, not errors.
func (p *Port) Run(sink func(data []byte, at time.Time)) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-p.closed:
			return nil
		default:
		}
		n, err := p.sp.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink(chunk, time.Now())
		}
		if err != nil {
			select {
			case <-p.closed:
				return nil
			default:
			}
			// tarm/serial reports a timed-out read as n==0, err==nil on
			// most platforms; a real error ends the loop
			return fmt.Errorf("read %s: %w", p.name, err)
		}
	}
}

// Close stops Run and releases the device.
func (p *Port) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		err = p.sp.Close()
	})
	return err
}
