package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexbotov/prizewheel/internal/api"
	"github.com/alexbotov/prizewheel/internal/audit"
	"github.com/alexbotov/prizewheel/internal/auth"
	"github.com/alexbotov/prizewheel/internal/catalog"
	"github.com/alexbotov/prizewheel/internal/config"
	"github.com/alexbotov/prizewheel/internal/control"
	"github.com/alexbotov/prizewheel/internal/coupon"
	"github.com/alexbotov/prizewheel/internal/database"
	"github.com/alexbotov/prizewheel/internal/eligibility"
	"github.com/alexbotov/prizewheel/internal/game"
	"github.com/alexbotov/prizewheel/internal/identity"
	"github.com/alexbotov/prizewheel/internal/logger"
	"github.com/alexbotov/prizewheel/internal/metrics"
	"github.com/alexbotov/prizewheel/internal/notify"
	"github.com/alexbotov/prizewheel/internal/rng"
	"github.com/alexbotov/prizewheel/internal/session"
	"github.com/alexbotov/prizewheel/internal/spinlog"
	"github.com/alexbotov/prizewheel/pkg/msggw"
	"go.uber.org/zap"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a dashboard token for the given merchant id and exit")
	flag.Parse()

	cfg := config.Load()

	if *issueToken != "" {
		token, err := auth.New(&cfg.Auth).IssueMerchantToken(*issueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	metrics.Init()

	db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var locker eligibility.Locker
	if cfg.Redis.Addr != "" {
		client, err := eligibility.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, eligibility locks disabled", zap.Error(err))
		} else {
			defer client.Close()
			locker = eligibility.NewRedisLocker(client)
		}
	}

	hub := notify.NewHub(log.Named("feed"))
	defer hub.Close()
	dispatcher := notify.NewDispatcher(cfg.Wheel.NotifyTimeout, log.Named("notify"), hub)

	if cfg.AMQP.URL != "" {
		publisher, err := notify.DialPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Warn("amqp unavailable, merchant alerts disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			dispatcher.Add(publisher)
		}
	}
	if cfg.Messaging.BaseURL != "" {
		dispatcher.Add(notify.NewCustomerMessenger(msggw.NewClient(&msggw.ClientConfig{
			BaseURL:    cfg.Messaging.BaseURL,
			APIKey:     cfg.Messaging.OperatorID,
			APISecret:  cfg.Messaging.SecretKey,
			Timeout:    cfg.Messaging.Timeout,
			RetryCount: 2,
		})))
	}

	rngSvc := rng.New()
	health, err := rngSvc.HealthCheck()
	if err != nil {
		return fmt.Errorf("rng health check failed: %w", err)
	}
	if !health.Healthy {
		return errors.New("rng failed its startup health check")
	}

	devices, err := identity.NewResolver([]byte(cfg.Wheel.DeviceHashKey), cfg.Wheel.DefaultTimezone)
	if err != nil {
		return err
	}

	authSvc := auth.New(&cfg.Auth)
	auditSvc := audit.New(db.DB)
	spins := spinlog.New(db.DB)
	sessions := session.NewRegistry(cfg.Wheel.SessionTTL, log.Named("sessions"))
	sessions.StartCleanup(ctx, cfg.Wheel.SweepInterval)

	engine := game.New(game.Deps{
		Catalogs: catalog.New(db.DB, log.Named("catalog")),
		Gate:     eligibility.NewGate(spins, eligibility.NewPostgresEntries(db.DB), locker, log.Named("eligibility")),
		Spins:    spins,
		Coupons:  coupon.NewIssuer(coupon.NewPostgresStore(db.DB), rngSvc, log.Named("coupon")),
		Signer:   authSvc,
		Notifier: dispatcher,
		Audit:    auditSvc,
		RNG:      rngSvc,
		Sessions: sessions,
		Logger:   log.Named("game"),
	}, game.Options{
		AnimationDuration: cfg.Wheel.AnimationDuration,
		AutoResolve:       cfg.Wheel.AutoResolve,
		RedeemBaseURL:     cfg.Wheel.RedeemBaseURL,
	})

	handler := api.New(engine, control.New(db.DB, auditSvc, log.Named("control")), authSvc, devices, hub, rngSvc, log.Named("http"))
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("prize wheel listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	engine.Close()
	dispatcher.Wait()
	return nil
}
