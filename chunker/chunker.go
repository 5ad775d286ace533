// Package chunker finds instrument frame boundaries inside a continuously
// arriving byte stream. The transport feeds raw reads in whatever pieces the
// wire delivers them; the chunker retains unconsumed tail bytes between calls
// so a frame split across reads is recognized once its final bytes arrive,
// and a read carrying several frames back to back yields every one of them.
// Bytes matching no known pattern are skipped as line noise.
package chunker

import (
	"bytes"
	"regexp"
	"sort"
	"time"
)

// Span is a half-open [Start, End) byte range within the scan buffer.
type Span struct {
	Start int
	End   int
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Matcher recognizes one frame type. Find returns every complete frame span
// in buf; incomplete frames at the tail are simply not reported and will be
// found on a later pass once the rest of their bytes arrive. Matchers never
// validate checksums; a full-length window behind a sync pattern is a
// candidate regardless of payload content.
type Matcher interface {
	Find(buf []byte) []Span
}

// SyncMatcher recognizes fixed-length binary frames: a sync byte sequence
// followed by enough bytes to cover the frame's total length.
type SyncMatcher struct {
	Sync   []byte
	Length int
}

// Find implements Matcher.
func (m SyncMatcher) Find(buf []byte) []Span {
	var out []Span
	for i := 0; ; {
		j := bytes.Index(buf[i:], m.Sync)
		if j < 0 {
			return out
		}
		start := i + j
		if start+m.Length > len(buf) {
			// not enough bytes yet; any later sync hit is shorter still
			return out
		}
		out = append(out, Span{Start: start, End: start + m.Length})
		i = start + 1
	}
}

// RegexMatcher recognizes variable-length textual frames, such as ASCII
// status responses, by a compiled pattern.
type RegexMatcher struct {
	Pattern *regexp.Regexp
}

// Find implements Matcher.
func (m RegexMatcher) Find(buf []byte) []Span {
	var out []Span
	for _, loc := range m.Pattern.FindAllIndex(buf, -1) {
		out = append(out, Span{Start: loc[0], End: loc[1]})
	}
	return out
}

// Chunk is one recognized frame plus the port timestamp of the transport
// read that delivered its first byte.
type Chunk struct {
	Data     []byte
	PortTime time.Time
}

// stamp records the port time in effect from buffer offset Off onward.
type stamp struct {
	off int
	at  time.Time
}

// Chunker owns the unconsumed byte buffer and the matcher set. It is not
// safe for concurrent use; the transport read loop feeds it synchronously.
type Chunker struct {
	matchers []Matcher
	buf      []byte
	stamps   []stamp
	pending  []Chunk
	maxBuf   int
}

// DefaultMaxBuffer bounds the unconsumed buffer when the caller does not.
const DefaultMaxBuffer = 1 << 16

// New returns a Chunker over the given matcher set. maxBuf bounds the
// unconsumed buffer; when only unmatched bytes accumulate past the bound the
// oldest are dropped (they are noise or a frame type nobody is looking for).
func New(maxBuf int, matchers ...Matcher) *Chunker {
	if maxBuf <= 0 {
		maxBuf = DefaultMaxBuffer
	}
	return &Chunker{matchers: matchers, maxBuf: maxBuf}
}

// Add feeds one transport read into the buffer and scans for completed
// frames. Recognized chunks queue up for Next in stream order.
func (c *Chunker) Add(raw []byte, portTime time.Time) {
	if len(raw) == 0 {
		return
	}
	c.stamps = append(c.stamps, stamp{off: len(c.buf), at: portTime})
	c.buf = append(c.buf, raw...)
	c.scan()
}

// Next pops the oldest recognized chunk, if any.
func (c *Chunker) Next() (Chunk, bool) {
	if len(c.pending) == 0 {
		return Chunk{}, false
	}
	ch := c.pending[0]
	c.pending = c.pending[1:]
	return ch, true
}

// Drain returns all queued chunks at once.
func (c *Chunker) Drain() []Chunk {
	out := c.pending
	c.pending = nil
	return out
}

// Reset discards all buffered bytes and queued chunks.
func (c *Chunker) Reset() {
	c.buf = nil
	c.stamps = nil
	c.pending = nil
}

func (c *Chunker) scan() {
	var candidates []Span
	for _, m := range c.matchers {
		candidates = append(candidates, m.Find(c.buf)...)
	}
	if len(candidates) == 0 {
		c.trim()
		return
	}

	// When spans overlap the longer one wins: a short sync pattern can be a
	// valid substring of a longer response, and the longer match is the more
	// specific reading of those bytes.
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := candidates[i].End-candidates[i].Start, candidates[j].End-candidates[j].Start
		if li != lj {
			return li > lj
		}
		return candidates[i].Start < candidates[j].Start
	})
	var kept []Span
	for _, cand := range candidates {
		clear := true
		for _, k := range kept {
			if cand.overlaps(k) {
				clear = false
				break
			}
		}
		if clear {
			kept = append(kept, cand)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })

	consumed := 0
	for _, sp := range kept {
		data := make([]byte, sp.End-sp.Start)
		copy(data, c.buf[sp.Start:sp.End])
		c.pending = append(c.pending, Chunk{Data: data, PortTime: c.timeAt(sp.Start)})
		consumed = sp.End
	}
	c.discard(consumed)
	c.trim()
}

// timeAt returns the port time covering buffer offset off.
func (c *Chunker) timeAt(off int) time.Time {
	var t time.Time
	for _, s := range c.stamps {
		if s.off > off {
			break
		}
		t = s.at
	}
	return t
}

// discard drops the first n buffered bytes and rebases the timestamps.
func (c *Chunker) discard(n int) {
	if n <= 0 {
		return
	}
	c.buf = c.buf[n:]
	rebased := c.stamps[:0]
	for _, s := range c.stamps {
		s.off -= n
		if s.off < 0 {
			// still covers offset 0 unless a later stamp does too
			if len(rebased) > 0 && rebased[len(rebased)-1].off == 0 {
				rebased = rebased[:len(rebased)-1]
			}
			s.off = 0
		}
		rebased = append(rebased, s)
	}
	c.stamps = rebased
}

// trim enforces the buffer bound by dropping the oldest unmatched bytes.
func (c *Chunker) trim() {
	if len(c.buf) > c.maxBuf {
		c.discard(len(c.buf) - c.maxBuf)
	}
}
