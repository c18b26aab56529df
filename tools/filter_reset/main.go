package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"database/sql"

	devicesapp "filterwatch/internal/devices/application"
	sessions "filterwatch/internal/sessions/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Marks a device's filter as replaced. Run after a physical filter
// swap so usage accounting restarts from now.
func main() {
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "postgres connection string")
	deviceKey := flag.String("device", "", "device key to reset")
	flag.Parse()

	if *dbURL == "" || *deviceKey == "" {
		fmt.Fprintln(os.Stderr, "usage: filter_reset -db <url> -device <key>")
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	db, err := sql.Open("pgx", *dbURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	service, err := devicesapp.NewResetService(db, sessions.SystemClock{}, logger)
	if err != nil {
		logger.Fatalf("reset service error: %v", err)
	}
	if err := service.ResetFilter(ctx, *deviceKey); err != nil {
		logger.Fatalf("reset error: %v", err)
	}
	fmt.Printf("filter reset recorded for %s\n", *deviceKey)
}
