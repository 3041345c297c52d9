package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/bus"
	"github.com/t77yq/safewatch/internal/config"
	"github.com/t77yq/safewatch/internal/firebase"
	"github.com/t77yq/safewatch/internal/logger"
	"github.com/t77yq/safewatch/internal/metrics"
	"github.com/t77yq/safewatch/internal/monitor"
	"github.com/t77yq/safewatch/internal/notify"
	"github.com/t77yq/safewatch/internal/ruleset"
	"github.com/t77yq/safewatch/internal/scheduler"
	"github.com/t77yq/safewatch/internal/storage"
)

// stores bundles the data sources selected by storage.driver
type stores struct {
	rules    monitor.RuleSource
	profiles monitor.ProfileSource
	alerts   monitor.AlertSink
	purger   scheduler.Purger
	push     *firebase.PushNotifier
	close    func() error
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("Failed to load time zone", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc := connectNATS(cfg, logger)
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}
	if err := bus.EnsureStreams(ctx, js, logger); err != nil {
		logger.Fatal("Failed to set up streams", zap.Error(err))
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Error("Failed to close storage", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineMetrics := metrics.New(reg)

	userID := cfg.App.UserID
	device := bus.NewDevice(nc, js, userID, logger)
	notifier := notify.NewAsync(notify.Fanout{notify.NewLogNotifier(logger), device}, cfg.Monitor.NotificationQueue, logger)
	defer notifier.Close()

	cron := scheduler.NewCronScheduler(loc, logger)

	var svc *monitor.Service
	reloadAtBoundaries := func(rs *ruleset.RuleSet) {
		err := cron.ScheduleWindowReloads(rs.Boundaries, func() {
			if err := svc.ReloadRules(context.Background()); err != nil {
				logger.Warn("Scheduled rule reload skipped", zap.Error(err))
			}
		})
		if err != nil {
			logger.Error("Failed to schedule window reloads", zap.Error(err))
		}
	}

	svc, err = monitor.New(monitorConfig(cfg), monitor.Deps{
		Rules:    st.rules,
		Profiles: st.profiles,
		Alerts:   bus.NewAlertPublisher(st.alerts, js, logger),
		Location: device,
		Motion:   device,
		Notifier: notifier,
	}, logger,
		monitor.WithClock(func() time.Time { return time.Now().In(loc) }),
		monitor.WithMetrics(engineMetrics),
		monitor.WithRulesLoadedHook(reloadAtBoundaries),
	)
	if err != nil {
		logger.Fatal("Failed to create monitoring service", zap.Error(err))
	}

	if st.purger != nil {
		if err := cron.ScheduleRetention(cfg.Storage.RetentionSpec, cfg.Storage.AlertRetention, st.purger); err != nil {
			logger.Fatal("Failed to schedule alert retention", zap.Error(err))
		}
	}
	cron.Start()

	if err := svc.Start(ctx); err != nil {
		logger.Fatal("Failed to start monitoring", zap.Error(err))
	}

	control, err := bus.NewControlServer(nc, userID, svc, logger)
	if err != nil {
		logger.Fatal("Failed to create control server", zap.Error(err))
	}
	if err := control.Start(); err != nil {
		logger.Fatal("Failed to start control server", zap.Error(err))
	}

	heartbeat := monitor.NewHeartbeat(userID, svc, device, cfg.Monitor.HeartbeatInterval, logger)
	heartbeat.Start(ctx)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("Serving metrics", zap.String("address", cfg.Metrics.Address))
	}

	logger.Info("Safewatch monitor running",
		zap.String("user_id", userID),
		zap.String("storage", cfg.Storage.Driver))

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	control.Stop()
	heartbeat.Stop()
	cron.Stop()
	if err := svc.Stop(); err != nil && !errors.Is(err, monitor.ErrNotRunning) {
		logger.Error("Failed to stop monitoring", zap.Error(err))
	}
	if st.push != nil {
		st.push.Wait()
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to stop metrics server", zap.Error(err))
		}
	}

	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}
	logger.Info("Monitor shut down gracefully")
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		UserID:               cfg.App.UserID,
		LocationInterval:     cfg.Monitor.LocationInterval,
		LocationMinInterval:  cfg.Monitor.LocationMinInterval,
		MotionSamplingPeriod: cfg.Monitor.MotionSamplingPeriod,
		InboxSize:            cfg.Monitor.InboxSize,
		PersistTimeout:       cfg.Monitor.PersistTimeout,
		LoadTimeout:          cfg.Monitor.LoadTimeout,
	}
}

func connectNATS(cfg *config.Config, logger *zap.Logger) *nats.Conn {
	opts := []nats.Option{
		nats.Name(cfg.App.Name + "-" + cfg.App.UserID),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	servers := cfg.NATS.URLs[0]
	for _, u := range cfg.NATS.URLs[1:] {
		servers += "," + u
	}
	for i := 0; i < cfg.NATS.ConnectRetries; i++ {
		nc, err = nats.Connect(servers, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if nc == nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.Storage.Driver {
	case config.DriverFirestore:
		app, err := firebase.NewApp(ctx, firebase.Config{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		store, err := firebase.NewStore(ctx, app, logger)
		if err != nil {
			return nil, err
		}

		st := &stores{rules: store, profiles: store, alerts: store, close: store.Close}
		if cfg.Firebase.Push {
			messenger, err := app.Messaging(ctx)
			if err != nil {
				store.Close()
				return nil, err
			}
			st.push = firebase.NewPushNotifier(store, store, messenger, logger)
			st.alerts = st.push
		}
		return st, nil

	default:
		store, err := storage.NewSQLiteStore(logger, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &stores{
			rules:    store,
			profiles: store,
			alerts:   store,
			purger:   store,
			close:    store.Close,
		}, nil
	}
}
