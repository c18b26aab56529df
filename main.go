package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"filterwatch/internal/config"
	"filterwatch/internal/filter"
	"filterwatch/internal/observability/metrics"
	"filterwatch/internal/runlog"
	"filterwatch/internal/scheduler"
	sessionsapp "filterwatch/internal/sessions/application"
	sessions "filterwatch/internal/sessions/domain"
	"filterwatch/internal/sync"

	analyticsapp "filterwatch/internal/analytics/application"
	validationapp "filterwatch/internal/validation/application"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	runRecorder := runlog.NewRepository(db)
	clock := sessions.SystemClock{}
	accountant := filter.NewAccountant()

	var syncClient *sync.Client
	if cfg.Sync.URL != "" {
		syncClient, err = sync.NewClient(cfg.Sync.URL, []byte(cfg.Sync.Secret), cfg.Sync.Issuer, logger)
		if err != nil {
			logger.Fatalf("sync client error: %v", err)
		}
	}

	stitchService, err := sessionsapp.NewStitchService(db, accountant, clock, cfg.Tail(), cfg.MaxSession(), logger)
	if err != nil {
		logger.Fatalf("stitch service error: %v", err)
	}
	if syncClient != nil {
		stitchService.WithNotifier(syncClient)
	}

	dailyAggregator, err := analyticsapp.NewDailyAggregator(db, clock, cfg.LookbackDays, logger)
	if err != nil {
		logger.Fatalf("daily aggregator error: %v", err)
	}
	regionAggregator, err := analyticsapp.NewRegionAggregator(db, clock, cfg.LookbackDays, logger)
	if err != nil {
		logger.Fatalf("region aggregator error: %v", err)
	}

	var validatorNotifier validationapp.Notifier
	if syncClient != nil {
		validatorNotifier = syncClient
	}
	validator, err := validationapp.NewValidator(db, clock, cfg.Tolerance(), cfg.LookbackDays, validatorNotifier, logger)
	if err != nil {
		logger.Fatalf("validator error: %v", err)
	}
	reportService, err := validationapp.NewReportService(db, clock, cfg.StorageRoot, logger)
	if err != nil {
		logger.Fatalf("report service error: %v", err)
	}

	jobs := []scheduler.Job{
		{Name: "stitch", Every: cfg.Schedule.StitchCadence(), Run: stitchService.Run},
		{Name: "daily_rollup", DailyAt: cfg.Schedule.AggregateDailyAt, Run: dailyAggregator.Run},
		{Name: "region_rollup", DailyAt: cfg.Schedule.RegionDailyAt, Run: regionAggregator.Run},
		{Name: "validate", DailyAt: cfg.Schedule.ValidateDailyAt, Run: validator.Run},
		{Name: "report", DailyAt: cfg.Schedule.ReportDailyAt, Run: reportService.Run},
	}
	sched := scheduler.New(jobs, runRecorder, logger)
	go sched.Start(context.Background())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
