package perf

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// A Session collects timing blocks for one unit of work, such as a migration
// run or a test. Sessions are safe for concurrent use, and a nil *Session
// silently discards everything so callers never need to check for one.
type Session struct {
	Name  string
	Start time.Time
	End   time.Time

	mu     sync.Mutex
	blocks []PerfBlock
}

func NewSession(name string) *Session {
	return &Session{
		Name:  name,
		Start: time.Now(),
	}
}

// Ends any open blocks and stamps the session's end time.
func (s *Session) EndSession() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for i := range s.blocks {
		if s.blocks[i].End.IsZero() {
			s.blocks[i].End = now
		}
	}
	s.End = now
}

func (s *Session) Checkpoint(category, description string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.blocks = append(s.blocks, PerfBlock{
		Start:       now,
		End:         now,
		Category:    category,
		Description: description,
	})
}

func (s *Session) StartBlock(category, description string) *BlockHandle {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = append(s.blocks, PerfBlock{
		Start:       time.Now(),
		Category:    category,
		Description: description,
	})
	return &BlockHandle{session: s, index: len(s.blocks) - 1}
}

// Returns a copy of the recorded blocks.
func (s *Session) Blocks() []PerfBlock {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]PerfBlock, len(s.blocks))
	copy(res, s.blocks)
	return res
}

func (s *Session) MsFromStart(block *PerfBlock) float64 {
	return float64(block.Start.Sub(s.Start).Nanoseconds()) / 1000 / 1000
}

// Writes a plain-text timing table, one line per block.
func (s *Session) WriteTo(w io.Writer) (int64, error) {
	if s == nil {
		return 0, nil
	}

	var total int64
	n, err := fmt.Fprintf(w, "%s\n", s.Name)
	total += int64(n)
	if err != nil {
		return total, err
	}
	for _, block := range s.Blocks() {
		n, err := fmt.Fprintf(w, "  %9.3fms  %9.3fms  [%s] %s\n", s.MsFromStart(&block), block.DurationMs(), block.Category, block.Description)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type BlockHandle struct {
	session *Session
	index   int
}

func (h *BlockHandle) End() {
	if h == nil || h.session == nil {
		return
	}
	h.session.mu.Lock()
	defer h.session.mu.Unlock()

	if h.session.blocks[h.index].End.IsZero() {
		h.session.blocks[h.index].End = time.Now()
	}
}

type PerfBlock struct {
	Start       time.Time
	End         time.Time
	Category    string
	Description string
}

func (pb *PerfBlock) Duration() time.Duration {
	return pb.End.Sub(pb.Start)
}

func (pb *PerfBlock) DurationMs() float64 {
	return float64(pb.Duration().Nanoseconds()) / 1000 / 1000
}

type perfContextKey struct{}

func AttachPerf(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, perfContextKey{}, s)
}

// Returns the session attached to ctx, or nil.
func ExtractPerf(ctx context.Context) *Session {
	s, _ := ctx.Value(perfContextKey{}).(*Session)
	return s
}
