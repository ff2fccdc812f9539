package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"fop-go/internal/fop"
)

// answers maps the single-key replies to actions. Upper case is the
// "to all" variant.
var answers = []struct {
	key    string
	action fop.Action
	label  string
}{
	{"r", fop.ActionRetry, "[r]etry"},
	{"s", fop.ActionSkip, "[s]kip"},
	{"S", fop.ActionSkipAll, "[S]kip all"},
	{"o", fop.ActionOverwrite, "[o]verwrite"},
	{"O", fop.ActionOverwriteAll, "[O]verwrite all"},
	{"m", fop.ActionMerge, "[m]erge"},
	{"n", fop.ActionRename, "re[n]ame"},
	{"c", fop.ActionCancel, "[c]ancel"},
}

// Decider asks the user how to resolve each error on a line-oriented
// console.
type Decider struct {
	mu    sync.Mutex
	in    *bufio.Reader
	out   io.Writer
	lines chan lineResult
}

type lineResult struct {
	line string
	err  error
}

func NewDecider(in io.Reader, out io.Writer) *Decider {
	return &Decider{in: bufio.NewReader(in), out: out}
}

// Decide blocks until a valid answer is read. It cancels the job when ctx
// is done or the input ends.
func (d *Decider) Decide(ctx context.Context, e fop.ErrorDescriptor) fop.Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	fmt.Fprintf(d.out, "\n%s: %s\n", e.Kind, describe(e))
	prompt := d.prompt(e)
	for {
		fmt.Fprint(d.out, prompt)
		line, err := d.readLine(ctx)
		if err != nil {
			return fop.Decision{Action: fop.ActionCancel}
		}
		answer := strings.TrimSpace(line)
		for _, a := range answers {
			if a.key != answer || !e.Allows(a.action) || (isToAll(a.action) && !e.AllowToAll) {
				continue
			}
			return fop.Decision{Action: a.action, ApplyToAll: isToAll(a.action)}
		}
		fmt.Fprintf(d.out, "invalid answer %q\n", answer)
	}
}

// readLine reads in a goroutine so a cancelled job is not held by a
// pending read. An abandoned read is picked up by the next call.
func (d *Decider) readLine(ctx context.Context) (string, error) {
	if d.lines == nil {
		d.lines = make(chan lineResult, 1)
		go func() {
			line, err := readLine(d.in)
			d.lines <- lineResult{line, err}
		}()
	}
	select {
	case r := <-d.lines:
		d.lines = nil
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *Decider) prompt(e fop.ErrorDescriptor) string {
	var labels []string
	for _, a := range answers {
		if !e.Allows(a.action) || (isToAll(a.action) && !e.AllowToAll) {
			continue
		}
		labels = append(labels, a.label)
	}
	return strings.Join(labels, " ") + "? "
}

func isToAll(a fop.Action) bool {
	return a == fop.ActionSkipAll || a == fop.ActionOverwriteAll
}

func describe(e fop.ErrorDescriptor) string {
	var b strings.Builder
	b.WriteString(e.From.String())
	if !e.To.IsZero() {
		b.WriteString(" -> ")
		b.WriteString(e.To.String())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

var _ fop.DecisionMaker = (*Decider)(nil)
