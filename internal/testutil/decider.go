package testutil

import (
	"context"
	"sync"

	"fop-go/internal/fop"
)

// ScriptedDecider answers decision requests from a script keyed by error
// kind and records every descriptor it saw. Kinds without an answer get
// Default, and ActionNone leaves the choice to the job policy.
type ScriptedDecider struct {
	mu      sync.Mutex
	answers map[fop.ErrorKind][]fop.Decision
	Default fop.Decision
	seen    []fop.ErrorDescriptor
	// OnAsk runs before each answer, outside the lock.
	OnAsk func(d fop.ErrorDescriptor)
}

func NewScriptedDecider() *ScriptedDecider {
	return &ScriptedDecider{answers: make(map[fop.ErrorKind][]fop.Decision)}
}

// Answer queues decisions for kind. The last one repeats once the queue
// runs dry.
func (s *ScriptedDecider) Answer(kind fop.ErrorKind, decisions ...fop.Decision) *ScriptedDecider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[kind] = append(s.answers[kind], decisions...)
	return s
}

// Always answers every descriptor of kind with a.
func (s *ScriptedDecider) Always(kind fop.ErrorKind, a fop.Action) *ScriptedDecider {
	return s.Answer(kind, fop.Decision{Action: a})
}

func (s *ScriptedDecider) Decide(ctx context.Context, d fop.ErrorDescriptor) fop.Decision {
	if s.OnAsk != nil {
		s.OnAsk(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, d)
	queue := s.answers[d.Kind]
	switch len(queue) {
	case 0:
		return s.Default
	case 1:
		return queue[0]
	}
	s.answers[d.Kind] = queue[1:]
	return queue[0]
}

// Seen returns the descriptors asked so far.
func (s *ScriptedDecider) Seen() []fop.ErrorDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fop.ErrorDescriptor(nil), s.seen...)
}

// Asked counts the descriptors of kind asked so far.
func (s *ScriptedDecider) Asked(kind fop.ErrorKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.seen {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

var _ fop.DecisionMaker = (*ScriptedDecider)(nil)
