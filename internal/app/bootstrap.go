// Package app is the composition root. Bootstrap stays orchestration-only;
// all behavior lives in the packages it wires together.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"telya.io/werkstatt/internal/api/handlers"
	"telya.io/werkstatt/internal/api/middleware"
	"telya.io/werkstatt/internal/config"
	"telya.io/werkstatt/internal/infrastructure"
	"telya.io/werkstatt/internal/jobs"
	"telya.io/werkstatt/internal/notification"
	"telya.io/werkstatt/internal/pkg/worker"
	"telya.io/werkstatt/internal/tracking"
)

// Application holds composed application dependencies.
type Application struct {
	Config *config.Config
	Router *gin.Engine
	DB     *infrastructure.DatabaseClients
	Pools  *worker.Pools
}

// Bootstrap initializes all dependencies using manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		NotifyPoolSize:  cfg.Worker.NotifyPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	// Inbox retention cleanup runs daily and once on startup so a long-idle
	// deployment does not accumulate read notifications forever.
	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewNotificationCleanupWorker(db.Repo, cfg.Notification.Retention))

	periodicJobs := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.NotificationCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
	if err := db.InitRiverClient(workers, cfg.River, periodicJobs); err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("init river client: %w", err)
	}

	triggers := notification.NewTriggers(notification.NewInboxSender(db.Repo), db.Repo)

	jwtCfg := middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.JWTSecret),
		Issuer:     cfg.Security.JWTIssuer,
		ExpiresIn:  cfg.Security.TokenExpiry,
	}

	server := handlers.NewServer(handlers.ServerDeps{
		Store:    db.Repo,
		JWTCfg:   jwtCfg,
		Verifier: tracking.NewVerifier(db.Repo),
		Tracker:  tracking.NewService(db.Repo, triggers, pools),
		Limiter:  tracking.NewLimiter(cfg.Tracking.RateLimitWindow, cfg.Tracking.RateLimitMaxRequests),
		Pinger:   db.Pool,
	})

	return &Application{
		Config: cfg,
		Router: newRouter(cfg, server, jwtCfg.SigningKey),
		DB:     db,
		Pools:  pools,
	}, nil
}
