package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/snarg/dispatch-intel/internal/alerts"
	"github.com/snarg/dispatch-intel/internal/api"
	"github.com/snarg/dispatch-intel/internal/config"
	"github.com/snarg/dispatch-intel/internal/database"
	"github.com/snarg/dispatch-intel/internal/geocode"
	"github.com/snarg/dispatch-intel/internal/hospital"
	"github.com/snarg/dispatch-intel/internal/hub"
	"github.com/snarg/dispatch-intel/internal/ingest"
	"github.com/snarg/dispatch-intel/internal/linker"
	"github.com/snarg/dispatch-intel/internal/postproc"
	"github.com/snarg/dispatch-intel/internal/scanner"
	"github.com/snarg/dispatch-intel/internal/storage"
	"github.com/snarg/dispatch-intel/internal/transcribe"
	"github.com/snarg/dispatch-intel/internal/units"
)

var version = "dev"

// Exit codes: 0 clean shutdown, 1 startup failure, 2 unrecoverable
// dependency failure at runtime.
const (
	exitStartup    = 1
	exitDependency = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace..error)")
	flag.StringVar(&overrides.DatabaseURL, "db", "", "postgres connection url")
	flag.StringVar(&overrides.RedisURL, "redis", "", "redis connection url")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "audio blob directory")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Error().Err(err).Msg("failed to load config")
		return exitStartup
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("dispatch-intel starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.Connect(ctx, cfg.DatabaseURL, log.With().Str("component", "database").Logger())
	if err != nil {
		log.Error().Err(err).Msg("failed to connect to database")
		return exitStartup
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		log.Error().Err(err).Msg("schema init failed")
		return exitStartup
	}

	// Blob storage (local, or tiered with S3)
	store, err := storage.New(cfg.S3, cfg.AudioDir, log)
	if err != nil {
		log.Error().Err(err).Msg("blob storage init failed")
		return exitStartup
	}

	// Redis backs the geocode cache; the service degrades to the
	// in-process cache if it is down.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error().Err(err).Msg("invalid redis url")
		return exitStartup
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, geocode cache is in-process only")
	}

	// Geocoder with provider fallback
	providers := []geocode.Provider{
		geocode.NewHTTPProvider("primary", cfg.GeocoderPrimary, 5*time.Second),
	}
	if cfg.GeocoderFallback != "" {
		providers = append(providers,
			geocode.NewHTTPProvider("fallback", cfg.GeocoderFallback, 5*time.Second))
	}
	geocoder := geocode.New(providers, rdb, geocode.Options{
		Jurisdiction: cfg.GeocoderJurisdiction,
		CacheTTL:     cfg.GeocodeCacheTTL,
		NegativeTTL:  cfg.GeocodeNegativeTTL,
	}, log)

	// Transcript post-processing
	dict, err := postproc.NewDictionary(cfg.DictionaryPath, log)
	if err != nil {
		log.Error().Err(err).Msg("dictionary load failed")
		return exitStartup
	}
	if err := dict.Watch(); err != nil {
		log.Warn().Err(err).Msg("dictionary hot reload unavailable")
	}
	processor := postproc.NewProcessor(dict)
	tagger := units.NewTagger(db, log)

	// Speech-to-text provider
	if cfg.TranscribeProvider != "whisper" {
		log.Error().Str("provider", cfg.TranscribeProvider).Msg("unknown transcription provider")
		return exitStartup
	}
	whisper := transcribe.NewWhisperClient(cfg.TranscribeURL, cfg.TranscribeModel, cfg.TranscribeTimeout)

	// Live hub
	liveHub := hub.New(hub.Options{
		Store:     db,
		Heartbeat: cfg.HubHeartbeat,
		QueueSize: cfg.HubQueueSize,
		Log:       log,
	})
	defer liveHub.Close()

	// Alerting
	engine := alerts.New(alerts.Options{
		DB:           db,
		Notifier:     liveHub,
		ScanInterval: cfg.AlertScanInterval,
		Log:          log,
	})

	// Hospital conversation grouping
	grouper := hospital.New(hospital.Options{
		DB:            db,
		Window:        cfg.HospitalWindow,
		CloseIdle:     cfg.HospitalCloseIdle,
		HospitalNames: cfg.HospitalNames,
		Log:           log,
	})

	// The linker is created after the pool (it re-runs merged segments
	// through it), so the processed hook resolves it lazily.
	var callLinker *linker.Linker

	pool := transcribe.NewWorkerPool(transcribe.WorkerPoolOptions{
		DB:        db,
		Store:     store,
		Provider:  whisper,
		Processor: processor,
		Geocoder:  geocoder,
		Tagger:    tagger,
		Notifier:  liveHub,
		Workers:   cfg.TranscribeConcurrency,
		QueueSize: cfg.TranscribeQueueSize,
		OnProcessed: func(ctx context.Context, pc transcribe.ProcessedCall) {
			engine.EvaluateCall(ctx, pc)
			if cfg.IsHospitalTalkgroup(pc.Talkgroup) {
				if err := grouper.Ingest(ctx, hospital.Segment{
					AudioSegmentID: pc.SegmentID,
					Talkgroup:      pc.Talkgroup,
					Transcript:     pc.Transcript,
					Confidence:     pc.Confidence,
					Timestamp:      pc.CapturedAt,
				}); err != nil {
					log.Warn().Err(err).Str("segment_id", pc.SegmentID).Msg("hospital grouping failed")
				}
				return
			}
			if callLinker != nil {
				callLinker.Consider(ctx, pc)
			}
		},
		Log: log,
	})

	callLinker = linker.New(linker.Options{
		DB:      db,
		Store:   store,
		Process: pool.ProcessNow,
		Window:  cfg.LinkerWindow,
		Log:     log,
	})

	pool.Start()
	defer pool.Stop()

	// Segment intake from the bridge socket
	intake := ingest.NewIntake(ingest.IntakeOptions{
		DB:         db,
		Store:      store,
		Queue:      pool,
		Systems:    cfg.ScannerSystems,
		Talkgroups: cfg.ScannerTalkgroups,
		Log:        log,
	})

	// Bridge subprocess supervisor. A runtime restart-failed state is an
	// unrecoverable dependency failure.
	depFailed := make(chan string, 1)
	supervisor := scanner.NewSupervisor(scanner.SupervisorOptions{
		BinaryPath: cfg.ScannerBinaryPath,
		Port:       cfg.ScannerListenPort,
		OnRestartFailed: func() {
			select {
			case depFailed <- "scanner bridge":
			default:
			}
		},
		Log: log,
	})
	if err := supervisor.Start(); err != nil {
		if errors.Is(err, scanner.ErrBinaryMissing) {
			log.Warn().Err(err).Msg("bridge binary missing, expecting an externally managed bridge")
		} else {
			log.Error().Err(err).Msg("bridge supervisor start failed")
			return exitStartup
		}
	}
	defer supervisor.Stop()

	bridge := scanner.NewBridge(scanner.BridgeOptions{
		URL:        fmt.Sprintf("ws://127.0.0.1:%d/", cfg.ScannerListenPort),
		Systems:    cfg.ScannerSystems,
		Talkgroups: cfg.ScannerTalkgroups,
		OnCall:     intake.HandleCall,
		IdleRead:   cfg.ScannerIdleRead,
		Log:        log,
	})
	go bridge.Run(ctx)

	if err := engine.Start(); err != nil {
		log.Error().Err(err).Msg("alert engine start failed")
		return exitStartup
	}
	defer engine.Stop()

	// Periodic housekeeping: idle hospital conversations, stats and
	// health frames for connected clients.
	go housekeeping(ctx, db, grouper, supervisor, pool, liveHub, log)

	// HTTP API
	health := api.NewHealthHandler(db, rdb, supervisor, pool, liveHub.SessionCount, version, startTime)
	srv := api.NewServer(cfg, api.Deps{
		DB:       db,
		Store:    store,
		Insights: engine,
		WS:       liveHub.ServeWS,
		Health:   health,
	}, log.With().Str("component", "http").Logger())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case name := <-depFailed:
		log.Error().Str("dependency", name).Msg("unrecoverable dependency failure")
		exitCode = exitDependency
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			exitCode = exitDependency
		}
	}
	// Stop the bridge and housekeeping before the deferred pool drain so
	// nothing enqueues into a closing queue.
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("dispatch-intel stopped")
	return exitCode
}

// housekeeping runs the periodic sweeps that don't deserve their own
// component: hospital idle close and hub stats/health frames.
func housekeeping(ctx context.Context, db *database.DB, grouper *hospital.Grouper,
	sup *scanner.Supervisor, pool *transcribe.WorkerPool, h *hub.Hub, log zerolog.Logger) {

	idle := time.NewTicker(time.Minute)
	stats := time.NewTicker(10 * time.Second)
	requeue := time.NewTicker(5 * time.Minute)
	defer idle.Stop()
	defer stats.Stop()
	defer requeue.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			if err := grouper.CloseIdle(ctx); err != nil {
				log.Warn().Err(err).Msg("idle conversation sweep failed")
			}
		case <-requeue.C:
			if _, err := pool.RecoverUnprocessed(ctx); err != nil {
				log.Warn().Err(err).Msg("unprocessed segment sweep failed")
			}
		case <-stats.C:
			if h.SessionCount() == 0 {
				continue
			}
			if s, err := db.Stats(ctx); err == nil {
				h.BroadcastStats(s)
			}
			h.BroadcastHealth(map[string]any{
				"bridge": sup.Status(),
				"queue":  pool.Stats(),
			})
		}
	}
}
