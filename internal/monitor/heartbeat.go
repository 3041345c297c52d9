package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/model"
)

// HeartbeatPublisher sends heartbeats to the monitors' side
type HeartbeatPublisher interface {
	PublishHeartbeat(ctx context.Context, hb model.Heartbeat) error
}

// StatusProvider exposes the engine status
type StatusProvider interface {
	Status() model.EngineStatus
}

// Heartbeat periodically publishes the engine status together with host stats
type Heartbeat struct {
	logger    *zap.Logger
	userID    string
	status    StatusProvider
	publisher HeartbeatPublisher
	interval  time.Duration
	clock     Clock

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHeartbeat creates a heartbeat for userID firing every interval
func NewHeartbeat(userID string, status StatusProvider, publisher HeartbeatPublisher, interval time.Duration, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		logger:    logger.Named("heartbeat"),
		userID:    userID,
		status:    status,
		publisher: publisher,
		interval:  interval,
		clock:     time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start starts the heartbeat loop
func (h *Heartbeat) Start(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	h.logger.Info("Starting heartbeat", zap.Duration("interval", h.interval))
	go h.loop(ctx)
}

// Stop stops the heartbeat loop and waits for it to exit
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	if h.started.Load() {
		<-h.done
	}
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	hb := h.Collect()
	if err := h.publisher.PublishHeartbeat(ctx, hb); err != nil {
		h.logger.Warn("Failed to publish heartbeat", zap.Error(err))
		return
	}

	h.logger.Debug("Heartbeat published",
		zap.String("phase", string(hb.Status.Phase)),
		zap.Float64("cpu_usage", hb.CPUUsage),
		zap.Float64("memory_usage", hb.MemoryUsage))
}

// Collect builds a heartbeat. Host stats that cannot be read are left zero.
func (h *Heartbeat) Collect() model.Heartbeat {
	hb := model.Heartbeat{
		UserID:    h.userID,
		Status:    h.status.Status(),
		Timestamp: h.clock(),
	}

	// Non-blocking CPU sample since the previous call
	if cpuPercent, err := cpu.Percent(0, false); err != nil {
		h.logger.Debug("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		hb.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		h.logger.Debug("Failed to get memory usage", zap.Error(err))
	} else {
		hb.MemoryUsage = memInfo.UsedPercent
	}

	if info, err := host.Info(); err != nil {
		h.logger.Debug("Failed to get host info", zap.Error(err))
	} else {
		hb.Hostname = info.Hostname
		hb.Uptime = info.Uptime
	}

	return hb
}
