package protocol

import (
	"bytes"
	"regexp"
	"sync"
	"time"
)

// Wire timing defaults.
const (
	DefaultTimeout    = 15 * time.Second
	SampleTimeout     = 70 * time.Second // measurement commands settle slowly
	DefaultWriteDelay = 0
	breakSettle       = 100 * time.Millisecond
)

// Transport is the single logical connection to the instrument. The engine
// never performs raw I/O itself; received bytes come back through
// Machine.OnBytes.
type Transport interface {
	Send(data []byte) error
}

// Command describes one command/response transaction: the outgoing bytes,
// its own timeout and optional write delay, and the response terminator as
// a byte count, a set of literal prompts or a regular expression. Binary
// responses must terminate on Expect or Prompts; regexp matching is rune
// oriented and does not see raw bytes above 0x7F.
type Command struct {
	Name       string
	Data       []byte
	Timeout    time.Duration // DefaultTimeout when zero
	WriteDelay time.Duration // settle time between write and read-wait
	Expect     int           // transaction completes after this many bytes
	Prompts    [][]byte      // transaction completes on any one of these
	Pattern    *regexp.Regexp
}

// Response is a completed transaction: the accumulated bytes and, for
// prompt-terminated commands, which prompt ended the wait. For
// pattern-terminated commands Match holds the pattern's submatches.
type Response struct {
	Data   []byte
	Prompt []byte
	Match  [][]byte
}

// maxResponseBuffer bounds the accumulated receive bytes. Streamed frames
// arriving with no transaction in flight would otherwise pile up until the
// next clear.
const maxResponseBuffer = 1 << 16

// responder accumulates raw receive bytes between transactions and wakes the
// waiting transaction on every arrival.
type responder struct {
	mu   sync.Mutex
	buf  []byte
	wake chan struct{}
}

func newResponder() *responder {
	return &responder{wake: make(chan struct{}, 1)}
}

func (r *responder) feed(raw []byte) {
	r.mu.Lock()
	r.buf = append(r.buf, raw...)
	if over := len(r.buf) - maxResponseBuffer; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *responder) clear() {
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}

// check looks for the command's terminator in the accumulated bytes.
func (r *responder) check(cmd Command) (Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cmd.Expect > 0 {
		if len(r.buf) >= cmd.Expect {
			return Response{Data: append([]byte{}, r.buf...)}, true
		}
		return Response{}, false
	}
	if cmd.Pattern != nil {
		if m := cmd.Pattern.FindSubmatch(r.buf); m != nil {
			return Response{Data: append([]byte{}, r.buf...), Match: m}, true
		}
		return Response{}, false
	}
	for _, p := range cmd.Prompts {
		if len(p) > 0 && bytes.Contains(r.buf, p) {
			return Response{Data: append([]byte{}, r.buf...), Prompt: p}, true
		}
	}
	return Response{}, false
}

// await blocks until the terminator arrives or the timeout lapses.
func (r *responder) await(cmd Command) (Response, error) {
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if resp, ok := r.check(cmd); ok {
			return resp, nil
		}
		select {
		case <-r.wake:
		case <-deadline.C:
			return Response{}, &TimeoutError{Op: cmd.Name, Wait: timeout}
		}
	}
}
