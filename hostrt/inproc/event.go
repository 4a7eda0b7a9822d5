//go:build !ios && !android && (amd64 || arm64)

package inproc

import (
	"context"

	"github.com/google/uuid"
)

// Event completes when its command group has run.
type Event struct {
	id   uuid.UUID
	done chan struct{}
	err  error
}

func newEvent() *Event {
	return &Event{id: newID(), done: make(chan struct{})}
}

func (e *Event) complete(err error) {
	e.err = err
	close(e.done)
}

// Wait implements hostrt.Event.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the command group has completed.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// ID identifies the event in log output.
func (e *Event) ID() uuid.UUID {
	return e.id
}
