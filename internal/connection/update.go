package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vpnpanel/internal/storage/models"
	pkgerrors "vpnpanel/pkg/errors"
)

// Phase is the lifecycle of an optimistic update:
// Pending -> Committed | RolledBack. Settled phases are final.
type Phase int

const (
	PhasePending Phase = iota
	PhaseCommitted
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Update tracks one optimistic settings change through its remote round trip.
type Update struct {
	id        string
	changes   []change
	previous  map[Field]any
	startedAt time.Time

	mu        sync.Mutex
	phase     Phase
	err       error
	settledAt time.Time
	done      chan struct{}
}

func newUpdate(id string, changes []change, previous map[Field]any, now time.Time) *Update {
	return &Update{
		id:        id,
		changes:   changes,
		previous:  previous,
		startedAt: now,
		phase:     PhasePending,
		done:      make(chan struct{}),
	}
}

// ID returns the update identifier, also sent as the request ID.
func (u *Update) ID() string { return u.id }

// Fields returns the fields carried by this update in canonical order.
func (u *Update) Fields() []Field {
	fields := make([]Field, len(u.changes))
	for i, c := range u.changes {
		fields[i] = c.field
	}
	return fields
}

// Phase returns the current phase.
func (u *Update) Phase() Phase {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.phase
}

// Err returns the classified failure for a rolled back update.
func (u *Update) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Done is closed once the update settles.
func (u *Update) Done() <-chan struct{} { return u.done }

// Wait blocks until the update settles or ctx ends. It returns the rollback
// cause, nil once committed, or ctx.Err().
func (u *Update) Wait(ctx context.Context) error {
	select {
	case <-u.done:
		return u.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle moves a pending update to a final phase. Done is closed separately
// by finish once the settlement has been published and journaled.
func (u *Update) settle(to Phase, err error, at time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.phase != PhasePending || to == PhasePending {
		return fmt.Errorf("illegal update transition %s -> %s", u.phase, to)
	}
	u.phase = to
	u.err = err
	u.settledAt = at
	return nil
}

func (u *Update) finish() {
	close(u.done)
}

// wireBody renders the request body for this update.
func (u *Update) wireBody() map[string]any {
	body := make(map[string]any, len(u.changes))
	for _, c := range u.changes {
		body[string(c.field)] = wireValue(c.value)
	}
	return body
}

// UpdateError is emitted when an applied update is rolled back.
type UpdateError struct {
	UpdateID string
	Fields   []Field
	Kind     pkgerrors.ErrorKind
	Err      error
	Message  string
}

// record renders a settled update for the journal.
func (u *Update) record() *models.UpdateRecord {
	u.mu.Lock()
	defer u.mu.Unlock()

	rec := &models.UpdateRecord{
		ID:        u.id,
		Fields:    fieldNames(u.Fields()),
		Phase:     u.phase.String(),
		StartedAt: u.startedAt,
		SettledAt: u.settledAt,
	}
	if u.err != nil {
		rec.ErrorKind = string(pkgerrors.Kind(u.err))
		rec.Error = u.err.Error()
	}
	return rec
}
