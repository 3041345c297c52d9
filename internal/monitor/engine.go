package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/alerting"
	"github.com/t77yq/safewatch/internal/detector"
	"github.com/t77yq/safewatch/internal/model"
	"github.com/t77yq/safewatch/internal/notify"
	"github.com/t77yq/safewatch/internal/ruleset"
)

type (
	locationMsg struct{ fix model.LocationFix }
	motionMsg   struct{ sample model.MotionSample }
	sosMsg      struct{ reply chan<- bool }
	reloadMsg   struct{}

	cancelMsg struct {
		pin   string
		reply chan<- error
	}

	rulesLoadedMsg struct {
		rules     *ruleset.RuleSet
		profile   model.Profile
		profileOK bool
	}

	persistedMsg struct {
		alert *model.Alert
		err   error
	}
)

// run is the state of one Start/Stop cycle. Everything below done is only
// touched by the loop goroutine.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan any
	done   chan struct{}

	machine  *alerting.StateMachine
	sensor   *detector.SensorDetector
	location *detector.LocationDetector
	profile  model.Profile
	lastFix  *model.LocationFix

	ticker    Ticker
	locSub    Subscription
	motionSub Subscription

	reloading     bool
	reloadPending bool
}

// deliver blocks until the loop accepts msg or the run ends
func (r *run) deliver(msg any) {
	select {
	case r.inbox <- msg:
	case <-r.ctx.Done():
	}
}

func (s *Service) loop(r *run) {
	defer close(r.done)
	defer s.shutdown(r)

	s.subscribeLocation(r)
	s.syncMotion(r)

	s.publishStatus(r)
	s.notify(r.ctx, notify.Monitoring(s.RuleSet().Count()))

	for {
		var tick <-chan time.Time
		if r.ticker != nil {
			tick = r.ticker.C()
		}

		select {
		case <-r.ctx.Done():
			return
		case <-tick:
			s.handleTick(r)
		case msg := <-r.inbox:
			s.handle(r, msg)
		}
	}
}

func (s *Service) handle(r *run, msg any) {
	switch m := msg.(type) {
	case locationMsg:
		s.handleLocation(r, m.fix)
	case motionMsg:
		s.handleMotion(r, m.sample)
	case sosMsg:
		m.reply <- s.trigger(r, model.DetectionManualSOS)
	case cancelMsg:
		m.reply <- s.handleCancel(r, m.pin)
	case reloadMsg:
		s.startReload(r)
	case rulesLoadedMsg:
		s.handleRulesLoaded(r, m)
	case persistedMsg:
		s.handlePersisted(r, m)
	default:
		s.logger.Warn("Ignoring unknown message")
	}
}

func (s *Service) handleLocation(r *run, fix model.LocationFix) {
	now := s.clock()
	r.lastFix = &fix

	kind, ok := r.location.Evaluate(fix, s.RuleSet(), r.machine.Idle(now))
	if ok {
		s.logger.Warn("Location rule violated",
			zap.String("detection", string(kind)),
			zap.Float64("lat", fix.Latitude),
			zap.Float64("lon", fix.Longitude),
			zap.Float64("speed_mps", fix.SpeedMps))
		if s.trigger(r, kind) {
			return
		}
	}
	s.publishStatus(r)
}

func (s *Service) handleMotion(r *run, sample model.MotionSample) {
	kind, ok := r.sensor.Evaluate(sample, s.RuleSet(), r.machine.Idle(s.clock()))
	if !ok {
		return
	}
	s.logger.Warn("Motion event detected",
		zap.String("detection", string(kind)),
		zap.Float64("g_force", detector.GForce(sample)))
	s.trigger(r, kind)
}

// trigger proposes a countdown. A proposal while not idle is dropped.
func (s *Service) trigger(r *run, kind model.DetectionKind) bool {
	now := s.clock()
	if !r.machine.Trigger(kind, r.profile.Countdown(), now) {
		s.metrics.IncSuppressed(kind)
		s.logger.Debug("Trigger ignored, engine busy",
			zap.String("detection", string(kind)),
			zap.String("phase", string(r.machine.Phase(now))))
		return false
	}

	if r.ticker != nil {
		// the cooldown ended between ticks
		s.stopTicker(r)
		s.notify(r.ctx, notify.Monitoring(s.RuleSet().Count()))
	}

	s.metrics.IncTrigger(kind)
	s.logger.Warn("Countdown started",
		zap.String("detection", string(kind)),
		zap.Duration("countdown", r.profile.Countdown()))

	s.startTicker(r)
	s.notify(r.ctx, notify.Countdown(kind, r.machine.SecondsLeft(now), 0))
	s.publishStatus(r)
	return true
}

func (s *Service) handleTick(r *run) {
	now := s.clock()
	res := r.machine.Tick(now)

	switch {
	case res.Expired:
		s.logger.Warn("Countdown expired, creating alert",
			zap.String("detection", string(res.Detection)))
		s.persistAlert(r, alerting.NewAlert(r.profile, res.Detection, r.lastFix, now))
		s.publishStatus(r)
	case res.Phase == model.PhaseCountingDown:
		s.notify(r.ctx, notify.Countdown(res.Detection, res.SecondsLeft, res.Progress))
		s.publishStatus(r)
	case res.Phase == model.PhaseIdle:
		s.logger.Info("Cooldown over, monitoring resumed")
		s.stopTicker(r)
		s.notify(r.ctx, notify.Monitoring(s.RuleSet().Count()))
		s.publishStatus(r)
	}
}

func (s *Service) handleCancel(r *run, pin string) error {
	now := s.clock()
	kind := r.machine.Detection()

	err := r.machine.Cancel(pin, r.profile.CancellationPIN, now)
	switch {
	case err == nil:
		s.metrics.IncCancellation("ok")
		s.logger.Info("Countdown cancelled", zap.String("detection", string(kind)))
		s.notify(r.ctx, notify.Cancelled(kind))
		s.publishStatus(r)
	case errors.Is(err, alerting.ErrInvalidPIN):
		s.metrics.IncCancellation("invalid_pin")
		s.logger.Warn("Cancellation rejected, invalid PIN")
	default:
		s.metrics.IncCancellation("not_counting_down")
	}
	return err
}

// persistAlert stores alert without holding up the loop. The phase has
// already moved to cooldown; the result only selects the notification.
func (s *Service) persistAlert(r *run, alert *model.Alert) {
	s.persist.Add(1)
	go func() {
		defer s.persist.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		defer cancel()

		start := time.Now()
		id, err := s.deps.Alerts.CreateAlert(ctx, alert)
		s.metrics.ObservePersist(alert.TriggerKind, time.Since(start), err)
		if err != nil {
			s.logger.Error("Failed to create alert",
				zap.String("alert_id", alert.ID),
				zap.String("detection", string(alert.Detection)),
				zap.Error(err))
		} else {
			if id != "" {
				alert.ID = id
			}
			s.logger.Info("Alert created",
				zap.String("alert_id", alert.ID),
				zap.String("trigger_kind", string(alert.TriggerKind)),
				zap.String("detection", string(alert.Detection)))
		}

		// after Stop the inbox may still have room
		select {
		case <-r.done:
			return
		default:
		}
		select {
		case r.inbox <- persistedMsg{alert: alert, err: err}:
		case <-r.done:
		}
	}()
}

func (s *Service) handlePersisted(r *run, m persistedMsg) {
	if m.err != nil {
		s.notify(r.ctx, notify.AlertFailed(m.alert.Detection))
		return
	}
	s.notify(r.ctx, notify.AlertSent(m.alert))
}

func (s *Service) startReload(r *run) {
	if r.reloading {
		r.reloadPending = true
		return
	}
	r.reloading = true

	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, s.cfg.LoadTimeout)
		defer cancel()
		rules, profile, ok := s.load(ctx)
		r.deliver(rulesLoadedMsg{rules: rules, profile: profile, profileOK: ok})
	}()
}

func (s *Service) handleRulesLoaded(r *run, m rulesLoadedMsg) {
	r.reloading = false
	if m.profileOK {
		r.profile = m.profile
	} else {
		s.logger.Warn("Keeping the previous profile")
	}
	s.swapRules(m.rules)
	s.syncMotion(r)
	s.publishStatus(r)

	if r.reloadPending {
		r.reloadPending = false
		s.startReload(r)
	}
}

func (s *Service) subscribeLocation(r *run) {
	if s.deps.Location == nil {
		return
	}
	req := model.LocationRequest{
		Interval:     s.cfg.LocationInterval,
		MinInterval:  s.cfg.LocationMinInterval,
		HighAccuracy: true,
	}
	sub, err := s.deps.Location.SubscribeLocation(r.ctx, req, func(fix model.LocationFix) {
		r.deliver(locationMsg{fix: fix})
	})
	if err != nil {
		s.logger.Warn("Location updates unavailable", zap.Error(err))
		return
	}
	r.locSub = sub
}

// syncMotion registers the accelerometer only while fall or accident
// detection is active.
func (s *Service) syncMotion(r *run) {
	if s.deps.Motion == nil {
		return
	}
	need := s.RuleSet().NeedsMotion()

	switch {
	case need && r.motionSub == nil:
		req := model.MotionRequest{SamplingPeriod: s.cfg.MotionSamplingPeriod}
		sub, err := s.deps.Motion.SubscribeMotion(r.ctx, req, func(sample model.MotionSample) {
			select {
			case r.inbox <- motionMsg{sample: sample}:
			default:
				// inbox full, the next sample supersedes this one
			}
		})
		if err != nil {
			s.logger.Warn("Motion sensor unavailable", zap.Error(err))
			return
		}
		r.motionSub = sub
		s.logger.Info("Motion sensor registered")
	case !need && r.motionSub != nil:
		s.unsubscribe("motion", r.motionSub)
		r.motionSub = nil
		s.logger.Info("Motion sensor unregistered")
	}
}

// startTicker restarts the ticker so ticks stay in phase with the new deadline
func (s *Service) startTicker(r *run) {
	s.stopTicker(r)
	r.ticker = s.newTicker(alerting.TickInterval)
}

func (s *Service) stopTicker(r *run) {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

func (s *Service) shutdown(r *run) {
	s.stopTicker(r)
	if r.locSub != nil {
		s.unsubscribe("location", r.locSub)
		r.locSub = nil
	}
	if r.motionSub != nil {
		s.unsubscribe("motion", r.motionSub)
		r.motionSub = nil
	}

	r.machine.Reset()
	r.sensor.Reset()
	r.location.Reset()

	now := s.clock()
	s.status.Publish(model.EngineStatus{
		Running:   false,
		Phase:     model.PhaseIdle,
		RuleCount: s.RuleSet().Count(),
		UpdatedAt: now,
	})
	s.metrics.SetPhase(model.PhaseIdle, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.notify(ctx, notify.Stopped())
	s.logger.Info("Monitoring stopped")
}

func (s *Service) unsubscribe(stream string, sub Subscription) {
	if err := sub.Unsubscribe(); err != nil {
		s.logger.Warn("Failed to unsubscribe", zap.String("stream", stream), zap.Error(err))
	}
}

func (s *Service) publishStatus(r *run) {
	now := s.clock()
	phase := r.machine.Phase(now)

	st := model.EngineStatus{
		Running:       true,
		Phase:         phase,
		SecondsLeft:   r.machine.SecondsLeft(now),
		SensorsActive: r.motionSub != nil,
		RuleCount:     s.RuleSet().Count(),
		UpdatedAt:     now,
	}
	if phase != model.PhaseIdle {
		st.Detection = r.machine.Detection()
	}
	if d, ok := r.machine.Deadline(); ok {
		st.Deadline = &d
	}
	if until, ok := r.machine.CooldownUntil(); ok {
		st.CooldownUntil = &until
	}
	if r.lastFix != nil {
		fix := *r.lastFix
		st.LastFix = &fix
	}

	s.status.Publish(st)
	s.metrics.SetPhase(phase, st.SecondsLeft)
}
