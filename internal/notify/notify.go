// Package notify builds and dispatches the user-facing notifications of the
// monitoring engine.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/model"
)

// Notifier delivers a notification to one channel
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n model.Notification) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, n model.Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notification")}
}

// Notify logs the notification. Ongoing updates are logged at debug level.
func (n *LogNotifier) Notify(_ context.Context, msg model.Notification) error {
	fields := []zap.Field{
		zap.String("kind", string(msg.Kind)),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
	}
	if msg.AlertID != "" {
		fields = append(fields, zap.String("alert_id", msg.AlertID))
	}
	if msg.Ongoing {
		n.logger.Debug("Notification updated", fields...)
		return nil
	}
	n.logger.Info("Notification", fields...)
	return nil
}

// Fanout delivers every notification to all of its notifiers
type Fanout []Notifier

// Notify sends to each notifier and joins their errors
func (f Fanout) Notify(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, notifier := range f {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrQueueFull is returned by Async when the dispatch queue is full
var ErrQueueFull = errors.New("notification queue full")

// Async hands notifications to a background worker so that slow channels
// never block the caller.
type Async struct {
	logger *zap.Logger
	next   Notifier
	queue  chan model.Notification
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewAsync starts a worker that forwards to next. size bounds the queue.
func NewAsync(next Notifier, size int, logger *zap.Logger) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		logger: logger.Named("notify-async"),
		next:   next,
		queue:  make(chan model.Notification, size),
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Notify enqueues n. An ongoing update is dropped when the queue is full;
// terminal notifications wait for room until ctx is done.
func (a *Async) Notify(ctx context.Context, n model.Notification) error {
	select {
	case <-a.done:
		return fmt.Errorf("failed to queue notification: dispatcher closed")
	default:
	}

	if n.Ongoing {
		select {
		case a.queue <- n:
			return nil
		default:
			return ErrQueueFull
		}
	}

	select {
	case a.queue <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return fmt.Errorf("failed to queue notification: dispatcher closed")
	}
}

// Close stops the worker after the queued notifications are delivered
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

func (a *Async) run() {
	defer a.wg.Done()
	for {
		select {
		case n := <-a.queue:
			a.deliver(n)
		case <-a.done:
			for {
				select {
				case n := <-a.queue:
					a.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(n model.Notification) {
	if err := a.next.Notify(context.Background(), n); err != nil {
		a.logger.Warn("Failed to deliver notification",
			zap.String("kind", string(n.Kind)),
			zap.Error(err))
	}
}
