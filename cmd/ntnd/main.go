// Command ntnd runs the NTN connectivity agent on a device: it drives the
// modem through GPS fix acquisition, two-phase network attachment, and
// telemetry transmission, aligned with predicted satellite passes.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/ntn-agent/internal/clock"
	"github.com/signalsfoundry/ntn-agent/internal/config"
	"github.com/signalsfoundry/ntn-agent/internal/ephemeris"
	"github.com/signalsfoundry/ntn-agent/internal/logging"
	"github.com/signalsfoundry/ntn-agent/internal/modem"
	"github.com/signalsfoundry/ntn-agent/internal/observability"
	"github.com/signalsfoundry/ntn-agent/internal/orchestrator"
	"github.com/signalsfoundry/ntn-agent/internal/recovery"
	"github.com/signalsfoundry/ntn-agent/internal/telemetry"
	"github.com/signalsfoundry/ntn-agent/internal/transport"
	"github.com/signalsfoundry/ntn-agent/internal/visibility"
	"github.com/signalsfoundry/ntn-agent/internal/watchdog"
)

func main() {
	configPath := flag.String("config", "configs/device.json", "Path to the device configuration JSON")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics")
	serialDevice := flag.String("serial", "/dev/ttyS0", "Serial device the modem is attached to")
	serialBaud := flag.Int("baud", 115200, "Serial baud rate")
	watchdogPath := flag.String("watchdog", "", "Hardware watchdog device (empty disables feeding)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warn(ctx, "using default configuration", logging.String("error", err.Error()))
		cfg = config.Default()
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewAgentCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(*metricsAddr, collector, log)

	records := make([]ephemeris.Record, 0, len(cfg.Satellites))
	for i, sat := range cfg.Satellites {
		records = append(records, ephemeris.Record{
			SatelliteID: i,
			Name:        sat.Name,
			Line1:       sat.Line1,
			Line2:       sat.Line2,
		})
	}
	store := ephemeris.NewStore(records, cfg.EphemerisInterval.D(), &ephemeris.StaticSource{Records: records})

	vparams := visibility.DefaultParams()
	vparams.MorningWindowHour = cfg.MorningWindowHour
	vparams.EveningWindowHour = cfg.EveningWindowHour
	vparams.MinPassDuration = cfg.MinPassDuration.D()
	vparams.MaxPassDuration = cfg.MaxPassDuration.D()
	predictor := visibility.NewPredictor(store, vparams)

	params := orchestrator.Params{
		FixTimeout:        cfg.FixTimeout.D(),
		Step1Timeout:      cfg.Step1Timeout.D(),
		Step2Timeout:      cfg.Step2Timeout.D(),
		FeederSettleDelay: cfg.FeederSettleDelay.D(),
		MaxIdleSlice:      cfg.MaxIdleSlice.D(),
		NoFixPollInterval: cfg.NoFixPollInterval.D(),
		ErrorCooldown:     cfg.ErrorCooldown.D(),
		LoopPause:         cfg.LoopPause.D(),
		MaxAttachCycles:   cfg.MaxAttachCycles,
		SendAttempts:      cfg.SendAttempts,
		OpenRetryDelay:    cfg.OpenRetryDelay.D(),
		SendRetryDelay:    cfg.SendRetryDelay.D(),
		PayloadBufferSize: cfg.PayloadBufferSize,
	}

	fixSig := orchestrator.NewSignal()
	regSig := orchestrator.NewSignal()

	client, err := modem.Dial(*serialDevice, *serialBaud, modem.Options{
		PLMN:           cfg.PLMN,
		BandMask:       cfg.BandMask,
		CommandTimeout: 10 * time.Second,
	}, log, regSig, fixSig)
	if err != nil {
		log.Error(ctx, "failed to open modem", logging.String("device", *serialDevice), logging.Err(err))
		os.Exit(1)
	}
	defer client.Close()

	escalator := recovery.NewEscalator(cfg.MaxRecoveryAttempts, &modemRecovery{client: client, store: store})

	orc := orchestrator.New(
		params,
		clock.Real{},
		log,
		store,
		predictor,
		telemetry.NewEncoder(cfg.NetworkTag),
		escalator,
		client,
		client,
		transport.NewUDP(cfg.ServerAddr),
		openWatchdog(ctx, *watchdogPath, log),
		collector,
	)

	// The modem raises the shared signals the orchestrator awaits on.
	orc.BindSignals(fixSig, regSig)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(ctx, "starting connectivity agent",
		logging.String("server_addr", cfg.ServerAddr),
		logging.String("plmn", cfg.PLMN),
		logging.Int("satellites", len(cfg.Satellites)),
	)
	if err := orc.Run(runCtx); err != nil && runCtx.Err() == nil {
		log.Error(ctx, "orchestrator exited", logging.Err(err))
	}

	log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

func serveMetrics(addr string, collector *observability.AgentCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func openWatchdog(ctx context.Context, path string, log logging.Logger) orchestrator.Watchdog {
	if path == "" {
		return watchdog.Noop{}
	}
	dev, err := watchdog.Open(path)
	if err != nil {
		log.Warn(ctx, "watchdog unavailable, feeding disabled", logging.String("path", path), logging.Err(err))
		return watchdog.Noop{}
	}
	return dev
}

// modemRecovery adapts the modem client and the ephemeris store to the
// escalation action surface.
type modemRecovery struct {
	client *modem.Client
	store  *ephemeris.Store
}

func (r *modemRecovery) ReleaseLink(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *modemRecovery) ResetAttachClient(ctx context.Context) error {
	return r.client.HardReset(ctx)
}

func (r *modemRecovery) ResetConfiguration(ctx context.Context) error {
	r.store.ForceUpdate()
	return r.client.HardReset(ctx)
}

func (r *modemRecovery) Reconfigure(ctx context.Context) error {
	return r.client.Configure(ctx, r.client.Latest())
}
