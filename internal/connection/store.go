package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"vpnpanel/internal/metrics"
	"vpnpanel/internal/observable"
	"vpnpanel/internal/storage"
	"vpnpanel/internal/storage/models"
	"vpnpanel/internal/transport"
	pkgerrors "vpnpanel/pkg/errors"
)

// Remote is the subset of the settings API the store talks to.
type Remote interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	UpdateFields(ctx context.Context, fields map[string]any) (*models.Settings, error)
	FeatureAccess(ctx context.Context, feature string) (bool, error)
	CurrentSession(ctx context.Context) (*models.Session, error)
	Servers(ctx context.Context) ([]models.ServerRef, error)
}

// Cache is the local persistence used for fallback and history.
type Cache interface {
	SaveSettings(ctx context.Context, settings *models.Settings) error
	LoadSettings(ctx context.Context) (*models.Settings, error)
	ReplaceServers(ctx context.Context, servers []models.ServerRef) error
	GetServers(ctx context.Context, filter storage.ServerFilter) ([]models.ServerRef, error)
	RecordUpdate(ctx context.Context, record *models.UpdateRecord) error
	GetPreference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
}

// Options configures a Store. Remote is required.
type Options struct {
	Remote  Remote
	Cache   Cache
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Clock   clockwork.Clock

	// FeatureTTL bounds how long a Feature-Access answer is reused.
	FeatureTTL time.Duration
}

// DefaultFeatureTTL is the Feature-Access cache lifetime.
const DefaultFeatureTTL = 30 * time.Second

// Store owns the ConnectionState. Every mutation is followed by a
// synchronous notification of all subscribers, in mutation order.
// Subscriber callbacks must not call mutating Store methods.
type Store struct {
	remote  Remote
	cache   Cache
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   clockwork.Clock

	// commitMu serializes mutate, snapshot and publish.
	commitMu sync.Mutex

	mu       sync.RWMutex
	state    ConnectionState
	inflight map[Field]*Update
	closed   bool

	states *observable.Value[ConnectionState]
	errs   observable.Event[UpdateError]

	features   singleflight.Group
	featureTTL time.Duration
	accessMu   sync.Mutex
	access     map[string]grant

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Store holding DefaultState.
func New(opts Options) (*Store, error) {
	if opts.Remote == nil {
		return nil, errors.New("connection store requires a remote")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.FeatureTTL <= 0 {
		opts.FeatureTTL = DefaultFeatureTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	initial := DefaultState()
	return &Store{
		remote:   opts.Remote,
		cache:    opts.Cache,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		clock:      opts.Clock,
		state:      initial,
		inflight:   make(map[Field]*Update),
		states:     observable.NewValue(initial.clone()),
		featureTTL: opts.FeatureTTL,
		access:     make(map[string]grant),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Subscribe registers fn for full-state notifications. fn is called
// immediately with the current state.
func (s *Store) Subscribe(fn func(ConnectionState)) observable.Unsubscribe {
	return s.states.Subscribe(fn)
}

// SubscribeErrors registers fn for rollback events. Past events are not
// replayed.
func (s *Store) SubscribeErrors(fn func(UpdateError)) observable.Unsubscribe {
	return s.errs.Subscribe(fn)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// InFlight reports whether f has an outstanding remote update.
func (s *Store) InFlight(f Field) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inflight[f]
	return ok
}

// ─── Settings updates ──────────────────────────────────────────────────────

// UpdateSettings applies patch optimistically and sends it to the settings
// API in the background. The returned Update settles once the server answers.
//
// Synchronous failures leave the state untouched: ErrInvalidValue or
// ErrUnknownField for bad input, InvalidStateError for connection-bound
// fields while connected, ErrUpdateInFlight when a field is already being
// updated, and AuthorizationError when Feature-Access denies the change.
func (s *Store) UpdateSettings(ctx context.Context, patch Patch) (*Update, error) {
	changes, err := patch.normalize()
	if err != nil {
		s.metrics.SettingUpdates.WithLabelValues("rejected").Inc()
		return nil, err
	}

	u, err := s.reserve(changes)
	if err != nil {
		return nil, err
	}

	if err := s.checkEntitlements(ctx, changes); err != nil {
		s.release(u)
		s.metrics.SettingUpdates.WithLabelValues("rejected").Inc()
		s.logger.Info("settings update rejected",
			zap.String("update", u.id),
			zap.Strings("fields", fieldNames(u.Fields())),
			zap.Error(err))
		return nil, err
	}

	if err := s.apply(u); err != nil {
		s.release(u)
		s.metrics.SettingUpdates.WithLabelValues("rejected").Inc()
		return nil, err
	}
	return u, nil
}

// reserve checks the state guards and claims the in-flight slot of every
// field in changes.
func (s *Store) reserve(changes []change) (*Update, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, pkgerrors.ErrStoreClosed
	}
	if err := s.checkGuards(changes); err != nil {
		s.metrics.SettingUpdates.WithLabelValues("rejected").Inc()
		return nil, err
	}
	for _, c := range changes {
		if _, busy := s.inflight[c.field]; busy {
			s.metrics.SettingUpdates.WithLabelValues("dropped").Inc()
			s.logger.Debug("settings update dropped", zap.String("field", string(c.field)))
			return nil, fmt.Errorf("%w: %s", pkgerrors.ErrUpdateInFlight, c.field)
		}
	}

	u := newUpdate(uuid.NewString(), changes, make(map[Field]any, len(changes)), s.clock.Now())
	for _, c := range changes {
		s.inflight[c.field] = u
	}
	return u, nil
}

// checkGuards must be called with mu held.
func (s *Store) checkGuards(changes []change) error {
	if !s.state.Connected {
		return nil
	}
	for _, c := range changes {
		if c.field.Guarded() {
			return &pkgerrors.InvalidStateError{
				Field:  string(c.field),
				Reason: "disconnect from the VPN first",
			}
		}
	}
	return nil
}

// release frees the in-flight slots held by u.
func (s *Store) release(u *Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(u)
}

func (s *Store) releaseLocked(u *Update) {
	for _, c := range u.changes {
		if s.inflight[c.field] == u {
			delete(s.inflight, c.field)
		}
	}
}

// checkEntitlements asks Feature-Access about every gated change in
// parallel.
func (s *Store) checkEntitlements(ctx context.Context, changes []change) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range changes {
		feature, gated := requiredFeature(c)
		if !gated {
			continue
		}
		g.Go(func() error {
			ok, err := s.FeatureAccess(gctx, feature)
			if err != nil {
				return err
			}
			if !ok {
				s.metrics.FeatureDenials.WithLabelValues(feature).Inc()
				return &pkgerrors.AuthorizationError{Feature: feature}
			}
			return nil
		})
	}
	return g.Wait()
}

// ─── Feature access ────────────────────────────────────────────────────────

type grant struct {
	allowed bool
	expires time.Time
}

// FeatureAccess reports whether the account may use feature. Answers are
// reused for FeatureTTL and concurrent lookups of one feature share a single
// remote call. That call runs under the store's lifetime; ctx only bounds
// the wait.
func (s *Store) FeatureAccess(ctx context.Context, feature string) (bool, error) {
	if allowed, ok := s.cachedGrant(feature); ok {
		return allowed, nil
	}

	ch := s.features.DoChan(feature, func() (any, error) {
		if allowed, ok := s.cachedGrant(feature); ok {
			return allowed, nil
		}
		allowed, err := s.remote.FeatureAccess(s.ctx, feature)
		if err != nil {
			return false, err
		}
		s.accessMu.Lock()
		s.access[feature] = grant{allowed: allowed, expires: s.clock.Now().Add(s.featureTTL)}
		s.accessMu.Unlock()
		return allowed, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Entitlements looks up every gated feature in parallel.
func (s *Store) Entitlements(ctx context.Context) (map[string]bool, error) {
	var mu sync.Mutex
	out := make(map[string]bool, len(GatedFeatures))

	g, gctx := errgroup.WithContext(ctx)
	for _, feature := range GatedFeatures {
		feature := feature
		g.Go(func() error {
			ok, err := s.FeatureAccess(gctx, feature)
			if err != nil {
				return fmt.Errorf("feature %s: %w", feature, err)
			}
			mu.Lock()
			out[feature] = ok
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) cachedGrant(feature string) (bool, bool) {
	s.accessMu.Lock()
	defer s.accessMu.Unlock()
	g, ok := s.access[feature]
	if !ok || !s.clock.Now().Before(g.expires) {
		return false, false
	}
	return g.allowed, true
}

func (s *Store) forgetGrants() {
	s.accessMu.Lock()
	defer s.accessMu.Unlock()
	clear(s.access)
}

// apply performs the optimistic mutation, notifies subscribers and starts
// the remote call.
func (s *Store) apply(u *Update) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return pkgerrors.ErrStoreClosed
	}
	// The connection may have come up while entitlements were checked.
	if err := s.checkGuards(u.changes); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, c := range u.changes {
		u.previous[c.field] = s.state.value(c.field)
		s.state.set(c.field, c.value)
	}
	snapshot := s.state.clone()
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Debug("settings update applied",
		zap.String("update", u.id),
		zap.Strings("fields", fieldNames(u.Fields())))
	s.states.Publish(snapshot)

	go s.send(u)
	return nil
}

// send runs the remote round trip for u and settles it.
func (s *Store) send(u *Update) {
	defer s.wg.Done()
	defer u.finish()

	ctx := transport.WithRequestID(s.ctx, u.id)
	rec, err := s.remote.UpdateFields(ctx, u.wireBody())
	if err != nil {
		s.rollback(u, err)
	} else {
		s.confirm(u, rec)
	}
	s.journal(u)
}

// confirm commits u and folds the authoritative record into the state.
// Subscribers are notified again only if the record differs from the
// optimistic values.
func (s *Store) confirm(u *Update, rec *models.Settings) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	s.releaseLocked(u)
	changed := false
	if rec != nil {
		changed = s.state.applyRecord(rec, s.inflight)
	}
	snapshot := s.state.clone()
	confirmed := s.confirmedLocked()
	s.mu.Unlock()

	if err := u.settle(PhaseCommitted, nil, s.clock.Now()); err != nil {
		s.logger.Error("update already settled", zap.String("update", u.id), zap.Error(err))
		return
	}
	s.metrics.SettingUpdates.WithLabelValues("committed").Inc()
	s.logger.Info("settings update committed",
		zap.String("update", u.id),
		zap.Strings("fields", fieldNames(u.Fields())),
		zap.Bool("corrected", changed))

	if changed {
		s.states.Publish(snapshot)
	}

	if s.cache != nil {
		if err := s.cache.SaveSettings(s.ctx, confirmed); err != nil {
			s.logger.Warn("failed to cache settings", zap.Error(err))
		}
	}
}

// confirmedLocked renders the state with every still-pending field reverted
// to its pre-update value. Must be called with mu held.
func (s *Store) confirmedLocked() *models.Settings {
	view := s.state
	for _, other := range s.inflight {
		for f, prev := range other.previous {
			view.set(f, prev)
		}
	}
	return view.toRecord()
}

// rollback reverts the fields of u that still hold the optimistic value,
// notifies subscribers and emits an UpdateError.
func (s *Store) rollback(u *Update, cause error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	s.releaseLocked(u)
	for _, c := range u.changes {
		if s.state.value(c.field) == c.value {
			s.state.set(c.field, u.previous[c.field])
		}
	}
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := u.settle(PhaseRolledBack, cause, s.clock.Now()); err != nil {
		s.logger.Error("update already settled", zap.String("update", u.id), zap.Error(err))
		return
	}
	s.metrics.SettingUpdates.WithLabelValues("rolled_back").Inc()
	s.logger.Warn("settings update rolled back",
		zap.String("update", u.id),
		zap.Strings("fields", fieldNames(u.Fields())),
		zap.Error(cause))

	s.states.Publish(snapshot)
	s.errs.Publish(UpdateError{
		UpdateID: u.id,
		Fields:   u.Fields(),
		Kind:     pkgerrors.Kind(cause),
		Err:      cause,
		Message:  pkgerrors.UserMessage(cause),
	})
}

func (s *Store) journal(u *Update) {
	if s.cache == nil {
		return
	}
	if err := s.cache.RecordUpdate(s.ctx, u.record()); err != nil {
		s.logger.Warn("failed to journal update", zap.String("update", u.id), zap.Error(err))
	}
}

// ─── Connection and servers ────────────────────────────────────────────────

// SetConnected marks the VPN as connected since at.
func (s *Store) SetConnected(at time.Time) {
	s.mutate(func(st *ConnectionState) bool {
		if st.Connected && st.ConnectTime != nil && st.ConnectTime.Equal(at) {
			return false
		}
		st.Connected = true
		st.ConnectTime = &at
		st.DisconnectReason = DisconnectNone
		return true
	})
}

// SetDisconnected marks the VPN as disconnected for reason.
func (s *Store) SetDisconnected(reason DisconnectReason) {
	s.mutate(func(st *ConnectionState) bool {
		if !st.Connected && st.DisconnectReason == reason {
			return false
		}
		st.Connected = false
		st.ConnectTime = nil
		st.DisconnectReason = reason
		return true
	})
}

// SelectServer replaces the selected server and remembers the choice
// locally. No remote call is made.
func (s *Store) SelectServer(ref models.ServerRef) {
	s.mutate(func(st *ConnectionState) bool {
		st.SelectedServer = &ref
		return true
	})

	if s.cache != nil {
		if err := s.cache.SetPreference(s.ctx, storage.PrefSelectedServer, ref.ID); err != nil {
			s.logger.Warn("failed to remember selected server", zap.Error(err))
		}
	}
}

// SetAvailableServers replaces the server catalog. The selected server is
// kept even if it is no longer listed.
func (s *Store) SetAvailableServers(servers []models.ServerRef) {
	servers = append([]models.ServerRef(nil), servers...)
	s.mutate(func(st *ConnectionState) bool {
		st.AvailableServers = servers
		return true
	})

	if s.cache != nil {
		if err := s.cache.ReplaceServers(s.ctx, servers); err != nil {
			s.logger.Warn("failed to cache server catalog", zap.Error(err))
		}
	}
}

// mutate applies fn and publishes the result if fn reports a change.
func (s *Store) mutate(fn func(*ConnectionState) bool) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	changed := fn(&s.state)
	snapshot := s.state.clone()
	s.mu.Unlock()

	if changed {
		s.states.Publish(snapshot)
	}
}

// ─── Loading ───────────────────────────────────────────────────────────────

// Load seeds the state from the settings, session and server catalog APIs
// in parallel. When the settings fetch fails the cached record is used; the
// error is returned only if nothing is cached. Fields with an outstanding
// update keep their optimistic value.
func (s *Store) Load(ctx context.Context) error {
	var (
		rec        *models.Settings
		settingErr error
		session    *models.Session
		sessionErr error
		servers    []models.ServerRef
		serversErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		rec, settingErr = s.remote.GetSettings(ctx)
		return nil
	})
	g.Go(func() error {
		session, sessionErr = s.remote.CurrentSession(ctx)
		return nil
	})
	g.Go(func() error {
		servers, serversErr = s.remote.Servers(ctx)
		return nil
	})
	_ = g.Wait()

	var loadErr error
	switch {
	case settingErr == nil && rec != nil:
		if s.cache != nil {
			if err := s.cache.SaveSettings(ctx, rec); err != nil {
				s.logger.Warn("failed to cache settings", zap.Error(err))
			}
		}
	case settingErr != nil:
		s.logger.Warn("failed to fetch settings, trying cache", zap.Error(settingErr))
		rec, loadErr = s.cachedSettings(ctx, settingErr)
	}

	if serversErr != nil {
		s.logger.Warn("failed to fetch servers, trying cache", zap.Error(serversErr))
		servers = s.cachedServers(ctx)
	} else if s.cache != nil {
		if err := s.cache.ReplaceServers(ctx, servers); err != nil {
			s.logger.Warn("failed to cache server catalog", zap.Error(err))
		}
	}
	if sessionErr != nil {
		s.logger.Warn("failed to fetch session status", zap.Error(sessionErr))
	}

	selectedID := s.preference(ctx, storage.PrefSelectedServer)
	if rec != nil {
		// Grants are re-checked against the record's plan.
		s.forgetGrants()
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if rec != nil {
		s.state.applyRecord(rec, s.inflight)
	}
	if sessionErr == nil {
		switch {
		case session != nil:
			at := session.StartedAt
			s.state.Connected = true
			s.state.ConnectTime = &at
			s.state.DisconnectReason = DisconnectNone
		case s.state.Connected:
			s.state.Connected = false
			s.state.ConnectTime = nil
			s.state.DisconnectReason = DisconnectDropped
		}
	}
	if servers != nil {
		s.state.AvailableServers = append([]models.ServerRef(nil), servers...)
	}
	if s.state.SelectedServer == nil && selectedID != "" {
		for _, srv := range s.state.AvailableServers {
			if srv.ID == selectedID {
				s.state.SelectedServer = &srv
				break
			}
		}
	}
	snapshot := s.state.clone()
	s.mu.Unlock()

	s.states.Publish(snapshot)
	return loadErr
}

func (s *Store) cachedSettings(ctx context.Context, cause error) (*models.Settings, error) {
	if s.cache == nil {
		return nil, errors.Join(cause, pkgerrors.ErrNotCached)
	}
	rec, err := s.cache.LoadSettings(ctx)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrNotCached) {
			err = errors.Join(err, pkgerrors.ErrNotCached)
		}
		return nil, errors.Join(cause, err)
	}
	return rec, nil
}

func (s *Store) cachedServers(ctx context.Context) []models.ServerRef {
	if s.cache == nil {
		return nil
	}
	servers, err := s.cache.GetServers(ctx, storage.ServerFilter{})
	if err != nil {
		s.logger.Warn("failed to read cached servers", zap.Error(err))
		return nil
	}
	return servers
}

func (s *Store) preference(ctx context.Context, key string) string {
	if s.cache == nil {
		return ""
	}
	v, err := s.cache.GetPreference(ctx, key)
	if err != nil {
		return ""
	}
	return v
}

// Close stops accepting updates and waits for outstanding remote calls.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	return nil
}
