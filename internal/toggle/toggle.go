package toggle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/metrics"
	"vpnpanel/internal/observable"
	pkgerrors "vpnpanel/pkg/errors"
)

// DefaultCooldown is the debounce window between accepted toggles.
const DefaultCooldown = time.Second

// Store is the part of the connection store a Control needs.
type Store interface {
	Subscribe(fn func(connection.ConnectionState)) observable.Unsubscribe
	UpdateSettings(ctx context.Context, patch connection.Patch) (*connection.Update, error)
}

// Options configures a Control.
type Options struct {
	Cooldown time.Duration
	Clock    clockwork.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Control guards one boolean setting against rapid repeated toggling and
// overlapping remote calls. Requests inside the cooldown window are dropped,
// never queued.
type Control struct {
	field    connection.Field
	store    Store
	cooldown time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	value        bool
	state        connection.ConnectionState
	accepted     bool
	lastAccepted time.Time
	pendingUntil time.Time

	unsub observable.Unsubscribe
}

// New binds a Control to field. The visual value follows store
// notifications from then on.
func New(store Store, field connection.Field, opts Options) (*Control, error) {
	if !field.IsBool() {
		return nil, fmt.Errorf("%w: %s is not a toggle", pkgerrors.ErrUnknownField, field)
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}

	c := &Control{
		field:    field,
		store:    store,
		cooldown: opts.Cooldown,
		clock:    opts.Clock,
		logger:   opts.Logger.With(zap.String("toggle", string(field))),
		metrics:  opts.Metrics,
	}
	c.unsub = store.Subscribe(c.sync)
	return c, nil
}

// NewAll creates one Control per field in fields, or per boolean field
// when fields is empty.
func NewAll(store Store, opts Options, fields ...connection.Field) (map[connection.Field]*Control, error) {
	if len(fields) == 0 {
		fields = connection.BoolFields
	}
	controls := make(map[connection.Field]*Control, len(fields))
	for _, f := range fields {
		c, err := New(store, f, opts)
		if err != nil {
			for _, created := range controls {
				created.Close()
			}
			return nil, err
		}
		controls[f] = c
	}
	return controls, nil
}

func (c *Control) sync(st connection.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = st
	c.value = st.Bool(c.field)
}

// Field returns the setting this control is bound to.
func (c *Control) Field() connection.Field { return c.field }

// Value returns the visual value.
func (c *Control) Value() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Pending reports whether an accepted request is inside its debounce window.
func (c *Control) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

// Enabled reports whether the control currently accepts requests.
func (c *Control) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabledReasonLocked() == ""
}

// Request asks for the setting to become v.
//
// It fails with ErrControlDisabled when the plan or connection state does not
// allow the change, ErrPending while a previous request is inside its window,
// and ErrCooldown when the window has not yet elapsed after a request that
// was rejected by the store. Otherwise the request is forwarded to the store
// and its Update returned.
func (c *Control) Request(ctx context.Context, v bool) (*connection.Update, error) {
	c.mu.Lock()
	if reason := c.disabledReasonLocked(); reason != "" {
		c.mu.Unlock()
		c.metrics.ToggleDrops.WithLabelValues("disabled").Inc()
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrControlDisabled, reason)
	}
	if c.pendingLocked() {
		c.mu.Unlock()
		c.metrics.ToggleDrops.WithLabelValues("pending").Inc()
		c.logger.Debug("toggle ignored, request pending")
		return nil, pkgerrors.ErrPending
	}
	if c.coolingLocked() {
		since := c.clock.Since(c.lastAccepted)
		c.mu.Unlock()
		c.metrics.ToggleDrops.WithLabelValues("cooldown").Inc()
		c.logger.Info("toggle ignored, cooling down",
			zap.Duration("since_last", since),
			zap.Duration("cooldown", c.cooldown))
		return nil, pkgerrors.ErrCooldown
	}

	now := c.clock.Now()
	c.accepted = true
	c.lastAccepted = now
	c.pendingUntil = now.Add(c.cooldown)
	c.value = v
	c.mu.Unlock()

	// The store notifies synchronously, so the lock must not be held here.
	u, err := c.store.UpdateSettings(ctx, connection.Set(c.field, v))
	if err != nil {
		c.mu.Lock()
		c.pendingUntil = time.Time{}
		c.value = c.state.Bool(c.field)
		c.mu.Unlock()
		return nil, err
	}
	return u, nil
}

// Close detaches the control from the store.
func (c *Control) Close() {
	c.unsub()
}

func (c *Control) pendingLocked() bool {
	return c.clock.Now().Before(c.pendingUntil)
}

func (c *Control) coolingLocked() bool {
	return c.accepted && c.clock.Since(c.lastAccepted) < c.cooldown
}

func (c *Control) disabledReasonLocked() string {
	if min := c.field.MinimumTier(); !c.state.Subscription.AtLeast(min) {
		return fmt.Sprintf("requires %s plan", min)
	}
	if c.field.Guarded() && c.state.Connected {
		return "disconnect from the VPN first"
	}
	return ""
}
