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
	"filterwatch/internal/filter"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Rebuilds a device's filter counter from its closed sessions. Run
// after flipping use_forced_air_for_heat so past heat runtime is
// re-judged under the new policy.
func main() {
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "postgres connection string")
	deviceKey := flag.String("device", "", "device key to recalculate")
	flag.Parse()

	if *dbURL == "" || *deviceKey == "" {
		fmt.Fprintln(os.Stderr, "usage: filter_recalc -db <url> -device <key>")
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

	service, err := devicesapp.NewRecalcService(db, filter.NewAccountant(), logger)
	if err != nil {
		logger.Fatalf("recalc service error: %v", err)
	}
	if err := service.RecalcFilterUsage(ctx, *deviceKey); err != nil {
		logger.Fatalf("recalc error: %v", err)
	}
	fmt.Printf("filter usage recalculated for %s\n", *deviceKey)
}
