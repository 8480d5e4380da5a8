package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/banshee-data/inspec/internal/api"
	"github.com/banshee-data/inspec/internal/config"
	"github.com/banshee-data/inspec/internal/detect"
	"github.com/banshee-data/inspec/internal/device"
	"github.com/banshee-data/inspec/internal/fsutil"
	"github.com/banshee-data/inspec/internal/monitoring"
	"github.com/banshee-data/inspec/internal/mqttpub"
	"github.com/banshee-data/inspec/internal/netstream"
	"github.com/banshee-data/inspec/internal/session"
	"github.com/banshee-data/inspec/internal/shortrange"
	"github.com/banshee-data/inspec/internal/timeutil"
	"github.com/banshee-data/inspec/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run without a radio module")
	listen     = flag.String("listen", ":8000", "Admin API listen address")
	port       = flag.String("port", "/dev/ttyS1", "Serial port of the radio module (ignored in dev mode)")
	baud       = flag.Int("baud", shortrange.DefaultBaudRate, "Radio module baud rate")
	configPath = flag.String("config", config.DefaultPath, "Settings file")
	dbPath     = flag.String("db", "sessions.db", "Session log database")
	mqttBroker = flag.String("mqtt", "", "MQTT broker URL for event mirroring, e.g. tcp://localhost:1883")
	mqttPrefix = flag.String("mqtt-prefix", mqttpub.DefaultTopicPrefix, "MQTT topic prefix")
	streamHost = flag.String("stream-host", "", "Host the stream endpoints bind to")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	seed       = flag.Int64("seed", 1, "Noise seed for the synthetic camera")
)

// exitRestart asks the supervisor to start the process again.
const exitRestart = 3

type radio interface {
	shortrange.Radio
	Monitor(ctx context.Context) error
	Close() error
	AttachAdminRoutes(mux *http.ServeMux)
}

func main() {
	flag.Parse()
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup happens first.
func run() int {
	logger, err := monitoring.NewLogger(*debug)
	if err != nil {
		log.Printf("failed to build logger: %v", err)
		return 1
	}
	defer logger.Sync()
	monitoring.UseZap(logger)
	logger.Info("starting", zap.String("version", version.String()), zap.Bool("dev", *devMode))

	if *listen == "" {
		logger.Error("listen address is required")
		return 1
	}

	cfg, problems, err := config.OpenStore(fsutil.OSFileSystem{}, *configPath)
	if err != nil {
		logger.Error("failed to load settings", zap.String("path", *configPath), zap.Error(err))
		return 1
	}
	for _, p := range problems {
		logger.Warn("settings problem, default kept", zap.String("problem", p))
	}

	var sessions *session.Store
	if *dbPath != "" {
		sessions, err = session.Open(*dbPath)
		if err != nil {
			logger.Error("failed to open session log", zap.String("path", *dbPath), zap.Error(err))
			return 1
		}
		defer sessions.Close()
	}

	var r radio
	if *devMode {
		r = shortrange.DisabledRadio{}
	} else {
		sr, err := shortrange.OpenSerialRadio(*port, shortrange.PortOptions{BaudRate: *baud})
		if err != nil {
			logger.Error("failed to open radio", zap.String("port", *port), zap.Error(err))
			return 1
		}
		r = sr
	}
	defer r.Close()

	clock := timeutil.RealClock{}
	stream := netstream.NewServer(netstream.Config{
		Host:       *streamHost,
		Quality:    cfg.Settings().StreamQuality,
		APIEnabled: cfg.Settings().APIEnabled == 1,
		Clock:      clock,
	})
	defer stream.Close()

	// No capture driver exists for the board yet, so every build runs the
	// synthetic camera; it also takes the sensor settings.
	cam := device.NewSyntheticCamera(cfg.Settings(), *seed)
	opts := device.Options{
		Clock:    clock,
		Camera:   cam,
		Sensor:   cam,
		Metric:   &detect.FrameDiff{},
		Config:   cfg,
		Link:     shortrange.NewLink(r),
		Stream:   stream,
		Sessions: sessions,
		Errors:   monitoring.NewErrorReporter(),
	}
	opts.Indicator = device.NewLEDIndicator(clock, func(led rune, on bool) {
		logger.Debug("led", zap.String("led", string(led)), zap.Bool("on", on))
	})
	var pub *mqttpub.Publisher
	if *mqttBroker != "" {
		pub, err = mqttpub.Connect(mqttpub.Config{Broker: *mqttBroker, TopicPrefix: *mqttPrefix})
		if err != nil {
			// Event mirroring is optional; the device runs without it.
			logger.Warn("mqtt disabled", zap.Error(err))
		} else {
			opts.Sink = pub
			defer pub.Close()
		}
	}

	dev, err := device.New(opts)
	if err != nil {
		logger.Error("failed to build device", zap.Error(err))
		return 1
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("radio monitor stopped", zap.Error(err))
		}
		logger.Info("radio monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(dev, sessions)
		mux := srv.ServeMux()
		srv.AttachAdminRoutes(mux)
		r.AttachAdminRoutes(mux)
		if sessions != nil {
			if err := sessions.AttachAdminRoutes(mux); err != nil {
				logger.Error("failed to attach session admin routes", zap.Error(err))
			}
		}

		if err := api.Serve(ctx, *listen, api.LoggingMiddleware(mux)); err != nil {
			logger.Error("HTTP server failed", zap.String("listen", *listen), zap.Error(err))
			stop()
		}
		logger.Info("HTTP server routine stopped")
	}()

	runErr := dev.Run(ctx)
	stop()
	wg.Wait()

	if pub != nil {
		st := pub.Stats()
		logger.Info("mqtt totals", zap.Any("published", st.Published), zap.Uint64("errors", st.Errors))
	}

	switch {
	case errors.Is(runErr, device.ErrRestart):
		logger.Info("restart requested")
		return exitRestart
	case runErr == nil, errors.Is(runErr, device.ErrStop), errors.Is(runErr, context.Canceled):
		logger.Info("graceful shutdown complete")
		return 0
	default:
		logger.Error("device loop failed", zap.Error(runErr))
		return 1
	}
}
