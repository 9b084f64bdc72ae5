package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"shakeskip/internal/camilladsp"
	"shakeskip/internal/ipc"
	"shakeskip/internal/sensor"
	"shakeskip/internal/session"
	"shakeskip/internal/settings"
	"shakeskip/internal/shake"
	"shakeskip/internal/skip"
	"shakeskip/internal/transport"
	"shakeskip/internal/transport/local"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("shakeskipd v%s\n", version)
	fmt.Println("Shake-to-skip daemon: turns phone/device shakes into a short forward skip")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  shakeskipd [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Mock transport, samples injected over IPC")
	fmt.Println("  shakeskipd -sensor inject")
	fmt.Println()
	fmt.Println("  # Play a local file, volume through CamillaDSP, settings in redis")
	fmt.Println("  shakeskipd -transport local -file ~/music/track.flac -output camilladsp -settings-store redis")
	fmt.Println()
	fmt.Println("  # Play a queue; next/previous wrap around")
	fmt.Println("  shakeskipd -transport local -playlist ~/music/a.mp3,~/music/b.flac")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - The evdev sensor needs read access to /dev/input (root or the 'input' group)")
	fmt.Println("  - Flags override values from -config")
}

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		sensorKind    = flag.String("sensor", SensorEvdev, "Sensor source: evdev|inject|none")
		sensorDevice  = flag.String("sensor-device", "", "Accelerometer event device (empty = discover by name)")
		transportKind = flag.String("transport", TransportMock, "Transport: mock|local")
		transportFile = flag.String("file", "", "Audio file for the local transport")
		playlist      = flag.String("playlist", "", "Comma-separated audio files queued after -file")
		output        = flag.String("output", OutputSoftware, "Volume output for the local transport: software|camilladsp")
		camillaWsURL  = flag.String("camilladsp-ws-url", camilladsp.DefaultConfig().URL, "CamillaDSP websocket URL")
		settingsStore = flag.String("settings-store", StoreMemory, "Settings store: memory|redis")
		redisAddr     = flag.String("redis-addr", "127.0.0.1:6379", "Redis address for the redis settings store")
		ipcSocket     = flag.String("ipc-socket", "/tmp/shakeskip.sock", "Unix domain socket path for IPC")
		apiListen     = flag.String("api-listen", "127.0.0.1:3080", "REST API listen address")
		stateWSListen = flag.String("state-ws-listen", "127.0.0.1:3081", "State websocket listen address")
		logLevelStr   = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion   = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	// Only flags given on the command line override the file.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sensor":
			ov.SensorKind = sensorKind
		case "sensor-device":
			ov.SensorDevice = sensorDevice
		case "transport":
			ov.TransportKind = transportKind
		case "file":
			ov.TransportFile = transportFile
		case "playlist":
			ov.Playlist = playlist
		case "output":
			ov.Output = output
		case "camilladsp-ws-url":
			ov.CamillaWsURL = camillaWsURL
		case "settings-store":
			ov.SettingsStore = settingsStore
		case "redis-addr":
			ov.RedisAddr = redisAddr
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocket
		case "api-listen":
			ov.APIListen = apiListen
		case "state-ws-listen":
			ov.StateWSListen = stateWSListen
		case "log-level":
			ov.LogLevel = logLevelStr
		}
	})
	ov.Apply(&cfg)

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

	if err := run(ctx, cfg, logLevel == slog.LevelDebug, logger); err != nil {
		logger.Error("shakeskipd stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

// run wires every component and blocks until ctx is canceled or one of them
// fails.
func run(ctx context.Context, cfg Config, debug bool, logger *slog.Logger) error {
	t, closeTransport, err := buildTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	initial, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	source, inject := buildSource(cfg, logger)

	sess := session.New(session.Options{
		Detector:   shake.NewDetector(cfg.ToShakeConfig(initial.Sensitivity), logger),
		Controller: skip.NewController(t, cfg.ToSkipConfig(), logger),
		Store:      store,
		Source:     source,
		Haptics:    logHaptics{logger: logger},
		Logger:     logger,
	})
	ctl := NewControl(sess, store, t, inject, logger)

	logger.Info("starting shakeskipd",
		"version", version,
		"sensor", cfg.Sensor.Kind,
		"transport", cfg.Transport.Kind,
		"settings_store", cfg.Settings.Store,
		"ipc", cfg.IPC.SocketPath)

	g, gctx := errgroup.WithContext(ctx)

	// Subscribe before the loops start so no early change is missed.
	if cfg.StateWS.Enabled {
		srv := NewStateServer(logger, ctl.Status, HubConfig{})
		skipCh, unsubSkip := sess.Controller().Subscribe(64)
		notices, unsubNotices := sess.Changes(64)
		snaps, unsubSnaps := t.Subscribe()
		defer unsubSkip()
		defer unsubNotices()
		defer unsubSnaps()

		mux := http.NewServeMux()
		srv.Register(mux, cfg.StateWS.Path)

		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			window := time.Duration(cfg.StateWS.CoalesceMS) * time.Millisecond
			RunBroadcaster(gctx, srv.Hub(), stateSources{Skip: skipCh, Notices: notices, Transport: snaps}, window, logger)
			return nil
		})
		g.Go(func() error {
			if err := runHTTPServer(gctx, cfg.StateWS.Listen, mux, logger); err != nil {
				return fmt.Errorf("state websocket: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error {
		return ipc.Serve(gctx, ExpandPath(cfg.IPC.SocketPath), ctl.HandleIPC, logger)
	})
	if cfg.API.Enabled {
		g.Go(func() error {
			return runAPI(gctx, newAPI(ctl, debug), cfg.API.Listen, logger)
		})
	}

	return g.Wait()
}

func buildTransport(cfg Config, logger *slog.Logger) (transport.Transport, func(), error) {
	switch cfg.Transport.Kind {
	case TransportLocal:
		var out local.VolumeOutput
		closeOut := func() {}
		if cfg.Transport.Output == OutputCamillaDSP {
			client, err := camilladsp.NewClient(cfg.ToCamillaDSPConfig(), logger)
			if err != nil {
				return nil, nil, fmt.Errorf("connect CamillaDSP: %w", err)
			}
			vo, err := camilladsp.NewVolumeOutput(client, cfg.CamillaDSP.MinDB, cfg.CamillaDSP.MaxDB)
			if err != nil {
				client.Close()
				return nil, nil, err
			}
			out = vo
			closeOut = func() { client.Close() }
		}

		p, err := local.NewPlayer(local.Config{
			SampleRate: cfg.Transport.SampleRate,
			Buffer:     time.Duration(cfg.Transport.BufferMS) * time.Millisecond,
			Output:     out,
		}, logger)
		if err != nil {
			closeOut()
			return nil, nil, err
		}
		cleanup := func() {
			p.Close()
			closeOut()
		}
		if err := p.Load(cfg.Tracks(), cfg.Transport.StartIndex); err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := p.SetVolume(cfg.Transport.InitialVolume); err != nil {
			logger.Warn("could not set initial volume", "error", err)
		}
		if err := p.Play(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("start playback: %w", err)
		}
		return p, cleanup, nil

	default:
		m := transport.NewMock()
		d := time.Duration(cfg.Transport.MockDurationMS) * time.Millisecond
		m.Load("mock://track", d, d > 0)
		_ = m.SetVolume(cfg.Transport.InitialVolume)
		_ = m.Play()
		return m, func() {}, nil
	}
}

func buildStore(ctx context.Context, cfg Config, logger *slog.Logger) (settings.Store, func(), error) {
	if cfg.Settings.Store != StoreRedis {
		return settings.NewMemoryStore(cfg.Settings.Initial), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Settings.RedisAddr,
		DB:   cfg.Settings.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Settings.RedisAddr, err)
	}
	return settings.NewRedisStore(client, cfg.Settings.RedisPrefix, logger), func() { client.Close() }, nil
}

// buildSource returns the accelerometer source. inject is non-nil only for
// the inject sensor kind. A missing device leaves the source nil, which
// marks the detector unavailable.
func buildSource(cfg Config, logger *slog.Logger) (sensor.Source, *sensor.ChanSource) {
	switch cfg.Sensor.Kind {
	case SensorInject:
		src := sensor.NewChanSource(256)
		return src, src
	case SensorNone:
		return nil, nil
	}

	path := cfg.Sensor.Device
	if path == "" {
		found, err := sensor.FindAccelerometer(cfg.Sensor.NameHint)
		if err != nil {
			logger.Warn("no accelerometer found, shake detection unavailable", "error", err)
			return nil, nil
		}
		path = found
	}
	logger.Info("using accelerometer", "device", path)
	return &sensor.EvdevSource{Path: path, Scale: cfg.Sensor.Scale, Logger: logger}, nil
}
