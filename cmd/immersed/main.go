// Command immersed is the ambient-environment orchestrator daemon: it
// wires the Config Store, Download Queue, Atmosphere Engine, Lights
// Engine, and Orchestrator core packages to concrete external
// collaborators (a process-spawning Player, an HTTP Music Client stand-
// in, UDP lamps) and exposes the Orchestrator's snapshot and command
// surface over HTTP. CLI command wiring beyond flags is explicitly out
// of scope (spec §1 Non-goals) — this binary's job is to prove the core
// runs end-to-end, not to be a polished user-facing tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/indubitablygregarious/immerse-yourself/cmd/immersed/httpmusic"
	"github.com/indubitablygregarious/immerse-yourself/cmd/immersed/processplayer"
	"github.com/indubitablygregarious/immerse-yourself/internal/atmosphere"
	"github.com/indubitablygregarious/immerse-yourself/internal/config"
	"github.com/indubitablygregarious/immerse-yourself/internal/downloadqueue"
	"github.com/indubitablygregarious/immerse-yourself/internal/lights"
	"github.com/indubitablygregarious/immerse-yourself/internal/metrics"
	"github.com/indubitablygregarious/immerse-yourself/internal/orchestrator"
	"github.com/indubitablygregarious/immerse-yourself/internal/snapshot"
)

const version = "0.1.0"

func printVersion() {
	fmt.Printf("immersed v%s\n", version)
}

func printUsage() {
	fmt.Printf("immersed v%s — ambient environment orchestrator daemon\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  immersed [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  A .env file in the working directory (if present) is loaded into the")
	fmt.Println("  process environment before flags are parsed. No setting is read from")
	fmt.Println("  environment variables; use -config and the options above.")
	fmt.Println()
}

func main() {
	// A .env file, if present, is loaded into the process environment
	// before flag parsing (godotenv.Load never overwrites an already-set
	// variable). None of the settings below is read from the environment.
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "discover-lights" {
		runDiscoverLights(os.Args[2:])
		return
	}

	var (
		configPath     = flag.String("config", "", "Path to a YAML config file")
		descriptorsDir = flag.String("descriptors-dir", "", "Directory of environment descriptor YAML files")
		collectionsDir = flag.String("collections-dir", "", "Directory of sound collection YAML files")
		cacheDir       = flag.String("cache-dir", "", "Directory for the download cache")
		playerCommand  = flag.String("player-command", "", "External decoder binary invoked for playback")
		musicBaseURL   = flag.String("music-base-url", "", "Base URL of the music service REST stand-in")
		musicToken     = flag.String("music-token", "", "Bearer token for the music service")
		httpAddr       = flag.String("http-addr", "", "Listen address for the snapshot/command HTTP surface")
		logLevelStr    = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion    = flag.Bool("version", false, "Print version and exit")
		showHelp       = flag.Bool("help", false, "Print help message")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	overrides := FlagOverrides{}
	if *descriptorsDir != "" {
		overrides.DescriptorsDir = descriptorsDir
	}
	if *collectionsDir != "" {
		overrides.CollectionsDir = collectionsDir
	}
	if *cacheDir != "" {
		overrides.CacheDir = cacheDir
	}
	if *playerCommand != "" {
		overrides.PlayerCommand = playerCommand
	}
	if *musicBaseURL != "" {
		overrides.MusicBaseURL = musicBaseURL
	}
	if *musicToken != "" {
		overrides.MusicToken = musicToken
	}
	if *httpAddr != "" {
		overrides.HTTPAddr = httpAddr
	}
	if *logLevelStr != "" {
		overrides.LogLevel = logLevelStr
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()

	store := config.NewStore(ExpandPath(cfg.Descriptors.Dir), ExpandPath(cfg.Descriptors.CollectionsDir), logger)
	if err := store.Reload(); err != nil {
		logger.Error("failed to load descriptors", "error", err)
		os.Exit(1)
	}

	queue, err := downloadqueue.New(ctx, ExpandPath(cfg.Descriptors.CacheDir), downloadqueue.NewHTTPFetcher(), logger)
	if err != nil {
		logger.Error("failed to start download queue", "error", err)
		os.Exit(1)
	}
	queue.SetMetrics(met)

	p := processplayer.New(cfg.Player.Command, cfg.Player.Args, logger)
	atmosphereEngine := atmosphere.New(p, queue, logger)

	lightsEngine, err := lights.New(cfg.Lights.Groups, logger)
	if err != nil {
		logger.Error("failed to start lights engine", "error", err)
		os.Exit(1)
	}
	lightsEngine.SetMetrics(met)

	music := httpmusic.New(cfg.Music.BaseURL, cfg.Music.Token, logger)
	if music.IsAvailable() {
		if err := music.Authenticate(ctx); err != nil {
			logger.Warn("music client authentication failed", "error", err)
		}
	}

	orch := orchestrator.New(store, queue, atmosphereEngine, lightsEngine, p, music, logger)
	orch.SetMetrics(met)

	snapServer := snapshot.NewServer(orch, met, logger)

	mux := chi.NewRouter()
	mux.Mount("/", snapServer.Router())
	mux.Mount("/commands", commandRouter(orch, logger))

	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}

	go snapServer.Run(ctx)

	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orch.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
}

// runDiscoverLights is the "immersed discover-lights" subcommand: a
// one-shot fixture discovery helper an operator runs once to learn
// fixture IPs for the lights.groups config section. It never starts the
// daemon.
func runDiscoverLights(args []string) {
	fs := flag.NewFlagSet("discover-lights", flag.ExitOnError)
	broadcastAddr := fs.String("broadcast-addr", "255.255.255.255:38899", "UDP broadcast address to query")
	fs.Parse(args)

	found, err := lights.Discover(*broadcastAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	for _, ip := range found {
		fmt.Println(ip)
	}
}
