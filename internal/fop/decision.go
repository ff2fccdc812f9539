package fop

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Action is a decision-maker's answer to an ErrorDescriptor.
type Action int

const (
	// ActionNone lets the default policy decide.
	ActionNone Action = iota
	ActionRetry
	ActionSkip
	ActionSkipAll
	ActionOverwrite
	ActionOverwriteAll
	ActionMerge
	ActionRename
	ActionCancel
)

var actionNames = map[Action]string{
	ActionNone:         "none",
	ActionRetry:        "retry",
	ActionSkip:         "skip",
	ActionSkipAll:      "skip-all",
	ActionOverwrite:    "overwrite",
	ActionOverwriteAll: "overwrite-all",
	ActionMerge:        "merge",
	ActionRename:       "rename",
	ActionCancel:       "cancel",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction is the inverse of Action.String.
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if name == s {
			return a, nil
		}
	}
	return ActionNone, fmt.Errorf("unknown action %q", s)
}

func (a Action) toAll() bool {
	return a == ActionSkipAll || a == ActionOverwriteAll
}

// single strips the "to all" variant.
func (a Action) single() Action {
	switch a {
	case ActionSkipAll:
		return ActionSkip
	case ActionOverwriteAll:
		return ActionOverwrite
	}
	return a
}

// ErrorDescriptor describes an error or collision awaiting a decision.
type ErrorDescriptor struct {
	JobID   string
	Kind    ErrorKind
	From    URL
	To      URL
	Message string
	Err     error
	// AllowToAll reports whether a "to all" answer is remembered for the
	// rest of the job.
	AllowToAll bool
	// Actions lists the valid answers. Cancel is always valid.
	Actions []Action
}

// Allows reports whether a is a valid answer.
func (d ErrorDescriptor) Allows(a Action) bool {
	a = a.single()
	if a == ActionCancel || len(d.Actions) == 0 {
		return true
	}
	return slices.Contains(d.Actions, a)
}

// Decision is the reply to one descriptor.
type Decision struct {
	Action     Action
	ApplyToAll bool
}

// DecisionMaker resolves errors for a job. It is called from a goroutine
// owned by the decision channel, never from the worker.
type DecisionMaker interface {
	Decide(ctx context.Context, d ErrorDescriptor) Decision
}

// DecisionFunc adapts a function to DecisionMaker.
type DecisionFunc func(ctx context.Context, d ErrorDescriptor) Decision

func (f DecisionFunc) Decide(ctx context.Context, d ErrorDescriptor) Decision { return f(ctx, d) }

// Policy answers when no decision-maker is attached.
type Policy struct {
	Collision Action
	Error     Action
}

var (
	PolicyFailFast  = Policy{Collision: ActionCancel, Error: ActionCancel}
	PolicySkip      = Policy{Collision: ActionSkip, Error: ActionSkip}
	PolicyOverwrite = Policy{Collision: ActionOverwrite, Error: ActionCancel}
	PolicyRename    = Policy{Collision: ActionRename, Error: ActionCancel}
)

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "fail-fast":
		return PolicyFailFast, nil
	case "skip":
		return PolicySkip, nil
	case "overwrite":
		return PolicyOverwrite, nil
	case "rename":
		return PolicyRename, nil
	}
	return Policy{}, fmt.Errorf("unknown policy %q", name)
}

// Decide picks the policy answer for d.
func (p Policy) Decide(d ErrorDescriptor) Action {
	a := p.Error
	if d.Kind.IsCollision() {
		a = p.Collision
		if a == ActionOverwrite && d.Kind == ErrKindDirExists && d.Allows(ActionMerge) {
			a = ActionMerge
		}
	}
	if d.Allows(a) {
		return a
	}
	if d.Allows(ActionSkip) && a != ActionCancel {
		return ActionSkip
	}
	return ActionCancel
}

// DecisionRequest is one pending question handed to a listener.
type DecisionRequest struct {
	Descriptor ErrorDescriptor
	reply      chan Decision
	once       sync.Once
}

// Reply answers the request. Only the first reply counts.
func (r *DecisionRequest) Reply(d Decision) {
	r.once.Do(func() { r.reply <- d })
}

// DecisionChannel is the per-job bridge between a worker that hit an error
// and whoever decides what to do about it.
type DecisionChannel struct {
	policy    Policy
	requests  chan *DecisionRequest
	listening atomic.Bool

	// asking serialises questions from pool goroutines.
	asking sync.Mutex
	mu     sync.Mutex
	sticky map[ErrorKind]Action

	onWait func(waiting bool)
}

func NewDecisionChannel(policy Policy) *DecisionChannel {
	return &DecisionChannel{
		policy:   policy,
		requests: make(chan *DecisionRequest),
		sticky:   make(map[ErrorKind]Action),
	}
}

// Listen marks the channel interactive and returns the request stream. The
// caller must Reply to every request it receives.
func (c *DecisionChannel) Listen() <-chan *DecisionRequest {
	c.listening.Store(true)
	return c.requests
}

// Attach serves requests with dm on a new goroutine until ctx is done.
func (c *DecisionChannel) Attach(ctx context.Context, dm DecisionMaker) {
	requests := c.Listen()
	go func() {
		for {
			select {
			case req := <-requests:
				req.Reply(dm.Decide(ctx, req.Descriptor))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Remember records a to-all answer for kind.
func (c *DecisionChannel) Remember(kind ErrorKind, a Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sticky[kind] = a.single()
}

func (c *DecisionChannel) remembered(d ErrorDescriptor) (Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.sticky[d.Kind]
	if !ok || !d.Allows(a) {
		return ActionNone, false
	}
	return a, true
}

// Ask blocks until d is answered. A done ctx answers cancel.
func (c *DecisionChannel) Ask(ctx context.Context, d ErrorDescriptor) Action {
	if a, ok := c.remembered(d); ok {
		return a
	}
	c.asking.Lock()
	defer c.asking.Unlock()
	if a, ok := c.remembered(d); ok {
		return a
	}
	if ctx.Err() != nil {
		return ActionCancel
	}

	dec := Decision{Action: ActionNone}
	if c.listening.Load() {
		var ok bool
		if dec, ok = c.roundTrip(ctx, d); !ok {
			return ActionCancel
		}
	}

	a := dec.Action
	if a == ActionNone {
		a = c.policy.Decide(d)
	}
	toAll := dec.ApplyToAll || a.toAll()
	a = a.single()
	if !d.Allows(a) {
		a = c.policy.Decide(d)
	}
	if toAll && d.AllowToAll && a != ActionCancel && a != ActionRetry {
		c.Remember(d.Kind, a)
	}
	return a
}

func (c *DecisionChannel) roundTrip(ctx context.Context, d ErrorDescriptor) (Decision, bool) {
	if c.onWait != nil {
		c.onWait(true)
		defer c.onWait(false)
	}
	req := &DecisionRequest{Descriptor: d, reply: make(chan Decision, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return Decision{}, false
	}
	select {
	case dec := <-req.reply:
		return dec, true
	case <-ctx.Done():
		return Decision{}, false
	}
}
