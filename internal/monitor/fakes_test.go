package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/safewatch/internal/model"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

const waitFor = 2 * time.Second

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type manualTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *manualTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type tickerFactory struct {
	created chan *manualTicker
}

func (f *tickerFactory) New(time.Duration) Ticker {
	t := &manualTicker{c: make(chan time.Time)}
	f.created <- t
	return t
}

type fakeRules struct {
	mu    sync.Mutex
	rules []model.AssignedRule
	err   error
}

func (f *fakeRules) AcceptedActiveRules(context.Context, string) ([]model.AssignedRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules, f.err
}

func (f *fakeRules) Set(rules ...model.AssignedRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = rules
}

type fakeProfiles struct {
	profile *model.Profile
	err     error
}

func (f *fakeProfiles) Profile(context.Context, string) (*model.Profile, error) {
	return f.profile, f.err
}

type fakeSink struct {
	alerts chan *model.Alert
	err    error
}

func (f *fakeSink) CreateAlert(_ context.Context, alert *model.Alert) (string, error) {
	copied := *alert
	f.alerts <- &copied
	if f.err != nil {
		return "", f.err
	}
	return alert.ID, nil
}

func (f *fakeSink) Next(t *testing.T) *model.Alert {
	t.Helper()
	select {
	case a := <-f.alerts:
		return a
	case <-time.After(waitFor):
		t.Fatal("no alert persisted")
		return nil
	}
}

type fakeSub struct {
	stream *fakeStream
}

func (s fakeSub) Unsubscribe() error {
	s.stream.mu.Lock()
	defer s.stream.mu.Unlock()
	s.stream.unsubscribes++
	s.stream.onFix = nil
	s.stream.onSample = nil
	return nil
}

type fakeStream struct {
	mu           sync.Mutex
	onFix        func(model.LocationFix)
	onSample     func(model.MotionSample)
	locReq       model.LocationRequest
	subscribes   int
	unsubscribes int
}

func (f *fakeStream) SubscribeLocation(_ context.Context, req model.LocationRequest, handler func(model.LocationFix)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.locReq = req
	f.onFix = handler
	return fakeSub{stream: f}, nil
}

func (f *fakeStream) SubscribeMotion(_ context.Context, _ model.MotionRequest, handler func(model.MotionSample)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.onSample = handler
	return fakeSub{stream: f}, nil
}

func (f *fakeStream) Counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes
}

func (f *fakeStream) Fix(t *testing.T, fix model.LocationFix) {
	t.Helper()
	var handler func(model.LocationFix)
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		handler = f.onFix
		return handler != nil
	}, waitFor, 5*time.Millisecond)
	handler(fix)
}

func (f *fakeStream) Sample(t *testing.T, s model.MotionSample) {
	t.Helper()
	var handler func(model.MotionSample)
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		handler = f.onSample
		return handler != nil
	}, waitFor, 5*time.Millisecond)
	handler(s)
}

type notes struct {
	mu  sync.Mutex
	got []model.Notification
}

func (n *notes) Notify(_ context.Context, msg model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, msg)
	return nil
}

func (n *notes) Has(kind model.NotificationKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, msg := range n.got {
		if msg.Kind == kind {
			return true
		}
	}
	return false
}

func (n *notes) Count(kind model.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, msg := range n.got {
		if msg.Kind == kind {
			count++
		}
	}
	return count
}

func (n *notes) Last(kind model.NotificationKind) (model.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.got) - 1; i >= 0; i-- {
		if n.got[i].Kind == kind {
			return n.got[i], true
		}
	}
	return model.Notification{}, false
}

type harness struct {
	svc      *Service
	clock    *fakeClock
	tickers  *tickerFactory
	rules    *fakeRules
	profiles *fakeProfiles
	sink     *fakeSink
	location *fakeStream
	motion   *fakeStream
	notes    *notes
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{now: t0},
		tickers:  &tickerFactory{created: make(chan *manualTicker, 8)},
		rules:    &fakeRules{},
		profiles: &fakeProfiles{},
		sink:     &fakeSink{alerts: make(chan *model.Alert, 8)},
		location: &fakeStream{},
		motion:   &fakeStream{},
		notes:    &notes{},
	}

	deps := Deps{
		Rules:    h.rules,
		Profiles: h.profiles,
		Alerts:   h.sink,
		Location: h.location,
		Motion:   h.motion,
		Notifier: h.notes,
	}
	opts = append([]Option{WithClock(h.clock.Now), WithTicker(h.tickers.New)}, opts...)

	svc, err := New(DefaultConfig("protected-1"), deps, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) Start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.svc.Start(context.Background()))
	t.Cleanup(func() {
		if h.svc.Running() {
			_ = h.svc.Stop()
		}
	})
}

func (h *harness) NextTicker(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-h.tickers.created:
		return tk
	case <-time.After(waitFor):
		t.Fatal("no ticker created")
		return nil
	}
}

// Tick advances the clock by d and delivers one tick
func (h *harness) Tick(tk *manualTicker, d time.Duration) {
	tk.c <- h.clock.Advance(d)
}

func (h *harness) EventuallyPhase(t *testing.T, phase model.Phase) model.EngineStatus {
	t.Helper()
	var st model.EngineStatus
	require.Eventually(t, func() bool {
		st = h.svc.Status()
		return st.Phase == phase
	}, waitFor, 5*time.Millisecond)
	return st
}

func ptr(v float64) *float64 { return &v }

func assigned(id string, kind model.RuleKind, threshold *float64) model.AssignedRule {
	return model.AssignedRule{
		Rule: model.Rule{ID: id, Kind: kind, Threshold: threshold, IsActive: true},
		Assignment: model.RuleAssignment{
			ID: "assign-" + id, RuleID: id, ProtectedID: "protected-1", IsAccepted: true,
		},
	}
}

func homeZone() model.AssignedRule {
	ar := assigned("home", model.RuleKindGeofence, ptr(200))
	ar.Rule.Latitude = ptr(40.0)
	ar.Rule.Longitude = ptr(-8.0)
	return ar
}
