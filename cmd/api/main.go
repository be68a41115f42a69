package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"grantline.org/internal/httpapi"
	"grantline.org/internal/ledger"
	"grantline.org/internal/obs"
	"grantline.org/internal/store/pg"
	"grantline.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	operator := ledger.Principal(os.Getenv("GRANTLINE_OPERATOR"))
	if operator == "" {
		operator = "operator"
	}

	clock := ledger.NewEpochClock(time.Now().UTC(), epochInterval())

	var (
		svc ledger.Service
		db  *sql.DB
	)
	if dsn := os.Getenv("GRANTLINE_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn, clock, operator)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		svc = store
		db = store.DB()
	} else {
		svc = ledger.NewInMemory(clock, operator)
	}

	events := stream.New()

	api := httpapi.New(httpapi.Config{
		Ready:   httpapi.ReadyProbe{DB: db},
		Service: svc,
		Clock:   clock,
		Stream:  events,
		Version: version,
	})

	addr := os.Getenv("GRANTLINE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting grantline-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func epochInterval() time.Duration {
	raw := os.Getenv("GRANTLINE_EPOCH_INTERVAL")
	if raw == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Fatalf("invalid GRANTLINE_EPOCH_INTERVAL %q", raw)
	}
	return d
}
