package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("toyremoted v%s\n", version)
	fmt.Println("Remote control daemon for Buttplug/Intiface haptic devices")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  toyremoted [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Drives the owner's devices through an Intiface server on a fixed 20 ms tick.")
	fmt.Println("  Plays saved patterns, records new ones, and mirrors live streams fed over IPC.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (optional; defaults are used when omitted)")
	fmt.Println()
	fmt.Println("  -buttplug-url string")
	fmt.Printf("        Intiface websocket URL (default %q)\n", defaultButtplugURL)
	fmt.Println("  -discover")
	fmt.Println("        Browse mDNS for Intiface Central; -buttplug-url is the fallback")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultSocketPath)
	fmt.Println()
	fmt.Println("  -state-ws-listen string")
	fmt.Println("        HTTP listen address for the state websocket; empty disables it (default \"127.0.0.1:8091\")")
	fmt.Println()
	fmt.Println("  -patterns-dir string")
	fmt.Printf("        Pattern library directory (default %q)\n", defaultPatternsDir)
	fmt.Println()
	fmt.Println("  -owner string")
	fmt.Printf("        Owner uid used as the local enactor (default %q)\n", defaultOwnerUID)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  TOYREMOTE_* variables override the config file (e.g. TOYREMOTE_BUTTPLUG_URL,")
	fmt.Println("  TOYREMOTE_LOCAL_ONLY_BRANDS=Lovense,Kiiroo). Flags override both.")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  toyremoted -config ~/.config/toyremote/config.yaml")
	fmt.Println("  toyremoted -buttplug-url ws://192.168.1.20:12345 -log-level debug")
	fmt.Println()
}

func main() {
	var (
		configPath  = flag.String("config", "", "YAML config file")
		buttplugURL = flag.String("buttplug-url", defaultButtplugURL, "Intiface websocket URL")
		discover    = flag.Bool("discover", false, "Find the Intiface server over mDNS before connecting")
		ipcSocket   = flag.String("ipc-socket", defaultSocketPath, "Unix domain socket path for IPC")
		wsListen    = flag.String("state-ws-listen", "127.0.0.1:8091", "HTTP listen address for the state websocket")
		patternsDir = flag.String("patterns-dir", defaultPatternsDir, "Pattern library directory")
		ownerUID    = flag.String("owner", defaultOwnerUID, "Owner uid")
		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	// Only flags the user actually set override the config.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "buttplug-url":
			overrides.ButtplugURL = buttplugURL
		case "discover":
			overrides.Discover = discover
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "state-ws-listen":
			overrides.StateWSListen = wsListen
		case "patterns-dir":
			overrides.PatternsDir = patternsDir
		case "owner":
			overrides.OwnerUID = ownerUID
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})

	cfg, err := loadConfig(*configPath, overrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, logLevel, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("toyremoted exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// loadConfig layers defaults, file, environment and flags, then validates.
func loadConfig(path string, overrides FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	library := NewPatternLibrary(ExpandPath(cfg.Patterns.Dir), logger.With("component", "patterns"))
	if err := library.Load(); err != nil {
		return err
	}

	events := make(chan Event, defaultEventsBuffer)

	// Without a state websocket nobody consumes broadcasts.
	var broadcasts chan StateBroadcast
	if cfg.StateWS.Listen != "" {
		broadcasts = make(chan StateBroadcast, 256)
	}

	st := newDaemonState(cfg, library, logger)

	bp, err := NewButtplugClient(cfg.Buttplug, events, logger.With("component", "buttplug"))
	if err != nil {
		return err
	}

	logger.Info("starting toyremoted",
		"version", version,
		"owner", cfg.Owner.UID,
		"buttplug", cfg.Buttplug.WsURL,
		"discover", cfg.Buttplug.Discover,
		"ipc", cfg.IPC.SocketPath,
		"state_ws", cfg.StateWS.Listen,
		"patterns", library.Dir())

	g, gctx := errgroup.WithContext(ctx)

	// The Buttplug client outlives the daemon loop so the session is closed
	// (devices stopped) while the connection is still up.
	daemonDone := make(chan struct{})
	g.Go(func() error {
		defer close(daemonDone)
		runDaemon(gctx, events, st, broadcasts, logger.With("component", "daemon"))
		return nil
	})

	g.Go(func() error {
		// Let the daemon flush its shutdown StopAllMotors before the socket closes.
		bctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-daemonDone
			cancel()
		}()
		return bp.Run(bctx)
	})

	g.Go(func() error {
		return runIPCServer(gctx, IPCServerConfig{
			SocketPath:  cfg.IPC.SocketPath,
			AllowAnyUID: cfg.IPC.AllowAnyUID,
		}, events, logger.With("component", "ipc"))
	})

	if cfg.StateWS.Listen != "" {
		srv := NewServer(logger.With("component", "state_ws"), events, StateServerConfig{AllowControl: cfg.StateWS.AllowControl})
		httpSrv := &http.Server{
			Addr:              cfg.StateWS.Listen,
			Handler:           NewRouter(srv, cfg.StateWS.Path),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, srv.Hub(), broadcasts, logger.With("component", "broadcaster"))
			return nil
		})
		g.Go(func() error {
			logger.Info("state websocket listening", "addr", cfg.StateWS.Listen, "path", cfg.StateWS.Path, "control", cfg.StateWS.AllowControl)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("state websocket server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
