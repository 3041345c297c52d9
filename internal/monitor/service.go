// Package monitor hosts the long-lived monitoring process: it feeds location
// fixes and motion samples through the detectors into the countdown state
// machine and persists an alert when a countdown expires.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/safewatch/internal/alerting"
	"github.com/t77yq/safewatch/internal/detector"
	"github.com/t77yq/safewatch/internal/metrics"
	"github.com/t77yq/safewatch/internal/model"
	"github.com/t77yq/safewatch/internal/notify"
	"github.com/t77yq/safewatch/internal/ruleset"
)

// Config holds the monitoring service settings
type Config struct {
	UserID string

	LocationInterval     time.Duration
	LocationMinInterval  time.Duration
	MotionSamplingPeriod time.Duration

	// InboxSize bounds the queue of pending samples and commands
	InboxSize int

	PersistTimeout time.Duration
	LoadTimeout    time.Duration
}

// DefaultConfig returns the default settings for userID
func DefaultConfig(userID string) Config {
	return Config{
		UserID:               userID,
		LocationInterval:     5 * time.Second,
		LocationMinInterval:  3 * time.Second,
		MotionSamplingPeriod: 60 * time.Millisecond,
		InboxSize:            64,
		PersistTimeout:       15 * time.Second,
		LoadTimeout:          10 * time.Second,
	}
}

// Deps are the collaborators of the service. Alerts is required; a nil
// source disables its stream and a nil Notifier discards notifications.
type Deps struct {
	Rules    RuleSource
	Profiles ProfileSource
	Alerts   AlertSink
	Location LocationSource
	Motion   MotionSource
	Notifier notify.Notifier
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the wall clock
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithTicker replaces the countdown ticker factory
func WithTicker(f TickerFactory) Option {
	return func(s *Service) { s.newTicker = f }
}

// WithMetrics records engine transitions in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRulesLoadedHook registers fn to be called with every new rule set
func WithRulesLoadedHook(fn func(*ruleset.RuleSet)) Option {
	return func(s *Service) { s.onRules = append(s.onRules, fn) }
}

// Service is the monitoring engine. All engine state is owned by a single
// goroutine; public methods talk to it through its inbox.
type Service struct {
	cfg       Config
	deps      Deps
	logger    *zap.Logger
	clock     Clock
	newTicker TickerFactory
	metrics   *metrics.Metrics
	onRules   []func(*ruleset.RuleSet)

	rules  atomic.Pointer[ruleset.RuleSet]
	status *StatusHub

	mu      sync.Mutex
	current *run
	persist sync.WaitGroup
}

// New creates a monitoring service for cfg.UserID
func New(cfg Config, deps Deps, logger *zap.Logger, opts ...Option) (*Service, error) {
	if cfg.UserID == "" {
		return nil, ErrMissingUserID
	}
	if deps.Alerts == nil {
		return nil, ErrMissingAlertSink
	}
	def := DefaultConfig(cfg.UserID)
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Fanout{}
	}

	s := &Service{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.Named("monitor"),
		clock:     time.Now,
		newTicker: NewStdTicker,
		status:    NewStatusHub(model.EngineStatus{Phase: model.PhaseIdle}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rules.Store(ruleset.Empty())
	return s, nil
}

// Start loads the profile and rules, subscribes to the device streams and
// starts the engine. Load failures never fail Start; without a profile the
// defaults apply until a reload reads one.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return ErrAlreadyRunning
	}

	s.logger.Info("Starting monitoring", zap.String("user_id", s.cfg.UserID))

	loadCtx, cancelLoad := context.WithTimeout(ctx, s.cfg.LoadTimeout)
	rules, profile, ok := s.load(loadCtx)
	cancelLoad()
	if !ok {
		profile = model.DefaultProfile(s.cfg.UserID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:      runCtx,
		cancel:   cancel,
		inbox:    make(chan any, s.cfg.InboxSize),
		done:     make(chan struct{}),
		machine:  alerting.NewStateMachine(),
		sensor:   detector.NewSensorDetector(),
		location: detector.NewLocationDetector(),
		profile:  profile,
	}
	s.current = r
	s.swapRules(rules)

	go s.loop(r)
	return nil
}

// Stop unsubscribes from the streams, drops any countdown and waits for the
// engine to exit.
func (s *Service) Stop() error {
	s.mu.Lock()
	r := s.current
	s.current = nil
	s.mu.Unlock()

	if r == nil {
		return ErrNotRunning
	}

	s.logger.Info("Stopping monitoring")
	r.cancel()
	<-r.done
	s.persist.Wait()
	return nil
}

// Running reports whether the engine is monitoring
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// TriggerSOS starts a countdown for a manual SOS. It reports false when the
// engine was already counting down or cooling down.
func (s *Service) TriggerSOS(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	r, err := s.request(ctx, sosMsg{reply: reply})
	if err != nil {
		return false, err
	}
	return await(ctx, r, reply)
}

// Cancel aborts the running countdown when pin matches the profile PIN
func (s *Service) Cancel(ctx context.Context, pin string) error {
	reply := make(chan error, 1)
	r, err := s.request(ctx, cancelMsg{pin: pin, reply: reply})
	if err != nil {
		return err
	}
	cancelErr, err := await(ctx, r, reply)
	if err != nil {
		return err
	}
	return cancelErr
}

// ReloadRules refetches the profile and rule set in the background. A
// running countdown is not affected.
func (s *Service) ReloadRules(ctx context.Context) error {
	_, err := s.request(ctx, reloadMsg{})
	return err
}

// Status returns the latest engine status
func (s *Service) Status() model.EngineStatus {
	return s.status.Latest()
}

// Subscribe streams engine status changes
func (s *Service) Subscribe() (<-chan model.EngineStatus, func()) {
	return s.status.Subscribe()
}

// RuleSet returns the rule set currently evaluated
func (s *Service) RuleSet() *ruleset.RuleSet {
	return s.rules.Load()
}

func (s *Service) request(ctx context.Context, msg any) (*run, error) {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return nil, ErrNotRunning
	}

	select {
	case r.inbox <- msg:
		return r, nil
	case <-r.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func await[T any](ctx context.Context, r *run, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrNotRunning
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// load fetches the rule set and the profile. ok is false when the profile
// could not be read.
func (s *Service) load(ctx context.Context) (rules *ruleset.RuleSet, profile model.Profile, ok bool) {
	var g errgroup.Group
	now := s.clock()

	g.Go(func() error {
		if s.deps.Rules == nil {
			rules = ruleset.Empty()
			rules.BuiltAt = now
			s.metrics.ObserveRuleLoad(0, nil)
			return nil
		}
		var err error
		rules, err = ruleset.Load(ctx, s.deps.Rules, s.cfg.UserID, now, s.logger)
		s.metrics.ObserveRuleLoad(rules.Count(), err)
		return nil
	})

	g.Go(func() error {
		profile, ok = s.loadProfile(ctx)
		return nil
	})

	_ = g.Wait()
	return rules, profile, ok
}

func (s *Service) loadProfile(ctx context.Context) (model.Profile, bool) {
	if s.deps.Profiles == nil {
		return model.DefaultProfile(s.cfg.UserID), true
	}
	p, err := s.deps.Profiles.Profile(ctx, s.cfg.UserID)
	if err != nil || p == nil {
		s.logger.Warn("Failed to load profile",
			zap.String("user_id", s.cfg.UserID),
			zap.Error(err))
		return model.Profile{}, false
	}
	profile := p.WithDefaults()
	if profile.UserID == "" {
		profile.UserID = s.cfg.UserID
	}
	return profile, true
}

func (s *Service) swapRules(rules *ruleset.RuleSet) {
	s.rules.Store(rules)
	for _, fn := range s.onRules {
		fn(rules)
	}
}

func (s *Service) notify(ctx context.Context, n model.Notification) {
	if err := s.deps.Notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("Failed to send notification",
			zap.String("kind", string(n.Kind)),
			zap.Error(err))
	}
}
