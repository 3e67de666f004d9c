package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/pdfbatcher/internal/config"
	"github.com/local/pdfbatcher/internal/dispatcher"
	"github.com/local/pdfbatcher/internal/limiter"
	"github.com/local/pdfbatcher/internal/metrics"
	"github.com/local/pdfbatcher/internal/orchestrator"
	"github.com/local/pdfbatcher/internal/queue"
	"github.com/local/pdfbatcher/internal/statuscheck"
	"github.com/local/pdfbatcher/internal/store"
)

func serve(cfg cfgpkg.Config) int {
	metrics.Init()

	// Queue
	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to redis")
		return 1
	}
	defer rq.Close()

	// Status and result stores share the queue connection
	status := orchestrator.NewStatusAdapter(store.NewRedisStatusFromClient(rq.Client()))
	results := orchestrator.NewResultAdapter(store.NewResultStore(rq.Client()))

	svc, err := buildServices(context.Background(), cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to init services")
		return 1
	}
	checks := statuscheck.Options{Redis: rq, ConvertEnabled: cfg.Batch.ConvertOffice}
	if svc.s3 != nil {
		cb := dispatcher.NewCircuitBreaker(rq.Client(), cfg.Worker.BreakerBaseBackoff, cfg.Worker.BreakerMaxBackoff)
		svc.runner.Publisher = &dispatcher.GuardedPublisher{Next: svc.s3, Breaker: cb, Target: "s3:" + svc.s3.Bucket()}
		checks.Storage = svc.s3
	}
	orchestrator.CleanupTemps(cfg.Batch.WorkDir, time.Hour)

	// Orchestrator HTTP server
	orch := orchestrator.New(orchestrator.Dependencies{
		Queue:    rq,
		Status:   status,
		Results:  results,
		FileRoot: cfg.Server.FileRoot,
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)
	mux.Handle("/health/deps", statuscheck.New(checks).Handler())
	mux.Handle("/metrics", metrics.Handler())

	// Dispatcher worker (optional)
	var disp *dispatcher.Worker
	if cfg.Server.RunDispatcher {
		limits := limiter.New(limiter.Options{
			MaxInflight: map[string]int{string(orchestrator.ModeSimilarity): cfg.Worker.SimilarityInflight},
			DefaultMax:  cfg.Worker.Concurrency,
		})
		host, _ := os.Hostname()
		disp = dispatcher.New(dispatcher.Config{
			Concurrency:  cfg.Worker.Concurrency,
			JobTimeout:   cfg.Worker.JobTimeout,
			MaxAttempts:  cfg.Worker.JobMaxAttempts,
			RetryBackoff: cfg.Worker.RetryBackoff,
			WorkDir:      cfg.Batch.WorkDir,
			Consumer:     host,
		}, rq, svc.runner, status, results, limits)
		disp.Start()
	}

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if disp != nil {
		if err := disp.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("dispatcher did not drain before shutdown")
		}
	}
	fmt.Println("shutdown complete")
	return 0
}
