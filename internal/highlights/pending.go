package highlights

import (
	"context"

	"github.com/starford/marginalia/internal/models"
)

// EventKind names a cache change.
type EventKind string

const (
	EventCreated    EventKind = "highlight.created"
	EventUpdated    EventKind = "highlight.updated"
	EventDeleted    EventKind = "highlight.deleted"
	EventRolledBack EventKind = "highlight.rolled_back"
)

// Event describes one cache change. For EventRolledBack, Op names the
// mutation that failed and Highlight holds the value restored or removed.
type Event struct {
	Kind      EventKind
	Op        string
	Highlight models.Highlight
	Err       error
}

// Pending is the outcome of a background gateway call.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the gateway call has finished and the cache is settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the call's error. It is only meaningful after Done is closed.
func (p *Pending) Err() error {
	return p.err
}

// Wait blocks until the call finishes or ctx ends. Cancelling ctx does not
// cancel the call itself.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
