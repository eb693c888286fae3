package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"rewardcraft/internal/fault"
)

// Step is one scripted reply: either text or an error.
type Step struct {
	Text string
	Err  error
}

// Scripted replays a fixed sequence of replies and records every request it
// receives. Used for tests and for offline replay of recorded sessions.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	next     int
	requests []Request
}

func NewScripted(replies ...string) *Scripted {
	steps := make([]Step, 0, len(replies))
	for _, r := range replies {
		steps = append(steps, Step{Text: r})
	}
	return &Scripted{steps: steps}
}

func NewScriptedSteps(steps ...Step) *Scripted {
	return &Scripted{steps: append([]Step(nil), steps...)}
}

// LoadReplayDir builds a Scripted backend from the *.txt files in dir,
// replayed in file name order.
func LoadReplayDir(dir string) (*Scripted, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backend: read replay dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".txt") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, errors.New("backend: replay dir has no .txt replies")
	}
	sort.Strings(names)
	replies := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("backend: read reply %s: %w", name, err)
		}
		replies = append(replies, string(data))
	}
	return NewScripted(replies...), nil
}

func (s *Scripted) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fault.Wrap(fault.KindBackendTimeout, "generation call timed out", err).WithRetryable(true)
		}
		return "", fault.Wrap(fault.KindBackendUnavailable, "generation call canceled", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.next >= len(s.steps) {
		return "", fault.Newf(fault.KindBackendUnavailable, "script exhausted after %d replies", len(s.steps))
	}
	step := s.steps[s.next]
	s.next++
	return step.Text, step.Err
}

func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps) - s.next
}
