package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/evpower/balancehub/db"
	"github.com/evpower/balancehub/gateway"
	"github.com/evpower/balancehub/lib/logging"
	"github.com/evpower/balancehub/lib/service"
	"github.com/evpower/balancehub/store"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// job to resolve top-ups left pending after their monitor gave up or the
// server restarted
func main() {

	c := &service.Config{}

	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configrued log file
	logger := logging.Logger(c.LogFilePath, c.LogLevel)

	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{Dsn: c.SentryDSN}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
	}

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}

	gatewayConfig, err := gateway.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading gateway config: %v", err)
	}

	// cached balances of other instances expire within BalanceCacheTTL
	svc := service.NewBalanceHubService(c, store.NewBunStore(dbConn), gateway.NewHTTPClient(gatewayConfig), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	report, err := svc.ReconcilePending(ctx)
	if err != nil {
		sentry.CaptureException(err)
		svc.Logger.Error(err)
	}
	if report != nil {
		svc.Logger.Infof("Pending reconciliation done: checked:%d reconciled:%d duplicates:%d still_pending:%d failed:%d",
			report.Checked, report.Reconciled, report.Duplicates, report.StillActive, report.Failed)
	}
	dbConn.Close()
	sentry.Flush(2 * time.Second)
	if err != nil || (report != nil && report.Failed > 0) {
		os.Exit(1)
	}
}
