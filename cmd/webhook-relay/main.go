// Command webhook-relay reads the device's api stream and POSTs every event
// line to a webhook server.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/inspec/internal/monitoring"
	"github.com/banshee-data/inspec/internal/relay"
)

var (
	source    = flag.String("source", "http://192.168.4.1:5000", "Device api stream URL")
	webhook   = flag.String("webhook", "http://localhost:3000", "Webhook base URL")
	retryWait = flag.Duration("retry", 2*time.Second, "Wait between reconnect attempts")
	retries   = flag.Int("retries", 1, "Extra attempts per webhook post")
	debug     = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logger, err := monitoring.NewLogger(*debug)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	monitoring.UseZap(logger)

	if *source == "" || *webhook == "" {
		logger.Fatal("both -source and -webhook are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := relay.New(relay.Config{
		Source:    *source,
		Webhook:   *webhook,
		RetryWait: *retryWait,
		Retries:   *retries,
	})
	logger.Info("relaying", zap.String("source", *source), zap.String("webhook", *webhook))

	err = r.Run(ctx)
	st := r.Stats()
	logger.Info("relay stopped",
		zap.Int("connects", st.Connects),
		zap.Int("lines", st.Lines),
		zap.Int("forwarded", st.Forwarded),
		zap.Int("failed", st.Failed),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
