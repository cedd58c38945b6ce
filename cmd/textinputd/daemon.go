// Package main wires the daemon together: configuration, logging,
// metrics, the autofill store, the platform backend, the input engine,
// and the IPC server that applications and textinputctl connect to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"textinputd/internal/autofill"
	"textinputd/internal/channel"
	"textinputd/internal/config"
	"textinputd/internal/engine"
	"textinputd/internal/health"
	"textinputd/internal/ipc"
	"textinputd/internal/logging"
	"textinputd/internal/metrics"
	"textinputd/internal/platform"
	"textinputd/internal/tracing"
)

// Daemon composes the daemon's components and manages their lifecycle.
type Daemon struct {
	cfg        *config.Config
	configPath string
	version    string

	log   *logging.Logger
	audit *logging.AuditLogger

	store   *autofill.Store
	backend platform.Backend
	engine  *engine.Engine
	outbox  *outbox
	handler *ipc.DaemonHandler
	server  *ipc.Server
	health  *health.Checker

	httpSrv *http.Server
	httpLn  net.Listener
	watcher *config.Loader

	ctx    context.Context
	cancel context.CancelFunc

	backendUp  atomic.Bool
	running    atomic.Bool
	shutdownCh chan string
}

// NewDaemon creates a daemon for the given configuration. configPath is
// the file the configuration was loaded from; empty means defaults with
// no file to watch.
func NewDaemon(cfg *config.Config, configPath, version string) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		cfg:        cfg,
		configPath: configPath,
		version:    version,
		log:        logging.Default().WithComponent("daemon"),
		health:     health.NewChecker(),
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan string, 1),
	}
}

// Start brings every component up. On error the components already
// started are left for Stop to tear down.
func (d *Daemon) Start() error {
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	metrics.InitMetrics(metrics.Default())
	d.initTracing()

	if d.cfg.Logging.AuditEnabled {
		audit, err := logging.NewAuditLogger(&logging.AuditLoggerConfig{
			FilePath:   d.cfg.Logging.AuditPath,
			MaxSize:    int64(d.cfg.Logging.MaxSizeMB),
			MaxAge:     d.cfg.Logging.MaxAgeDays,
			MaxBackups: d.cfg.Logging.MaxBackups,
			Compress:   d.cfg.Logging.Compress,
			Component:  "textinputd",
		})
		if err != nil {
			d.log.Warn("audit trail disabled", "path", d.cfg.Logging.AuditPath, "error", err)
		} else {
			d.audit = audit
			logging.SetDefaultAuditLogger(audit)
		}
	}

	if d.cfg.Autofill.Enabled {
		store, err := autofill.Open(d.cfg.Autofill)
		if err != nil {
			return fmt.Errorf("open autofill store: %w", err)
		}
		d.store = store
	}

	backend, err := platform.Select(d.cfg.Backends)
	if err != nil {
		return fmt.Errorf("select backend: %w", err)
	}
	d.backend = backend

	d.engine = engine.New(d.cfg, d.backend, d.store, nil)

	d.outbox = newOutbox(d.cfg.Engine.ClientQueueSize, func(clientID string, payload []byte) error {
		return d.server.SendChannel(clientID, channel.NameTextInput, payload)
	})
	d.engine.SetSend(d.outbox.Send)

	d.handler = ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Version:  d.version,
		Status:   d.status,
		Shutdown: d.requestShutdown,
		Keyboard: d.setKeyboardVisible,
		State:    d.editingState,
	})
	d.handler.SetChannelHandler(channel.NameTextInput, d.engine.HandleTextInput)

	server, err := ipc.NewServer(ipc.ServerConfigFromConfig(d.cfg, d.version), d.handler)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	d.server = server

	d.handler.SetBroadcaster(d.server.Broadcast)
	d.engine.SetBroadcaster(d.broadcastEvent)
	d.server.SetConnectHandler(d.clientConnected)
	d.server.SetDisconnectHandler(d.clientDisconnected)

	if err := d.startBackend(); err != nil {
		return err
	}

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	d.running.Store(true)

	d.registerHealthChecks()
	d.writePidFile()
	d.startHTTPEndpoint()
	d.watchConfig()
	d.health.SetReady(true)
	go d.health.Check(d.ctx)

	if d.audit != nil {
		d.audit.LogStartup(d.ctx, d.version, map[string]any{
			"backend": d.backend.Name(),
			"socket":  d.server.SocketPath(),
		})
	}

	d.log.Info("daemon started",
		"version", d.version,
		"backend", d.backend.Name(),
		"socket", d.server.SocketPath(),
		"autofill", d.store != nil)
	return nil
}

// startBackend starts the selected backend, falling back to the null
// backend when the preferred one fails to come up and fallback is
// allowed.
func (d *Daemon) startBackend() error {
	err := d.backend.Start(d.ctx, d.engine)
	if err == nil {
		d.backendUp.Store(true)
		return nil
	}

	if !d.cfg.Backends.AllowFallback || d.backend.Name() == platform.NameNull {
		return fmt.Errorf("start backend %q: %w", d.backend.Name(), err)
	}

	previous := d.backend.Name()
	d.log.Warn("backend failed to start, falling back", "backend", previous, "error", err)

	fallback, gerr := platform.Get(platform.NameNull, d.cfg.Backends)
	if gerr != nil {
		return fmt.Errorf("start backend %q: %w", previous, err)
	}
	if serr := fallback.Start(d.ctx, d.engine); serr != nil {
		return fmt.Errorf("start fallback backend: %w", serr)
	}

	d.backend.Stop()
	d.backend = fallback
	d.engine.SetBackend(fallback)
	d.backendUp.Store(true)

	if d.audit != nil {
		d.audit.LogBackendChange(d.ctx, previous, fallback.Name())
	}
	return nil
}

// Stop tears the daemon down in reverse order, draining queued frames
// for up to the configured grace period.
func (d *Daemon) Stop(reason string) error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}

	d.health.SetReady(false)
	d.log.Info("shutting down", "reason", reason)
	if d.audit != nil {
		d.audit.LogShutdown(d.ctx, reason)
	}

	if d.watcher != nil {
		d.watcher.Close()
	}

	if d.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		d.httpSrv.Shutdown(ctx)
		cancel()
	}

	grace := time.Duration(d.cfg.Daemon.ShutdownGraceSec) * time.Second
	if d.outbox != nil {
		d.outbox.Close(grace)
	}

	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			d.log.Warn("server stop failed", "error", err)
		}
	}

	if d.backend != nil {
		d.backendUp.Store(false)
		if err := d.backend.Stop(); err != nil {
			d.log.Warn("backend stop failed", "backend", d.backend.Name(), "error", err)
		}
	}

	if d.cfg.Trace.Enabled {
		if err := tracing.Shutdown(); err != nil {
			d.log.Warn("trace shutdown failed", "error", err)
		}
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.log.Warn("store close failed", "error", err)
		}
	}

	d.cancel()
	d.removePidFile()

	if d.audit != nil {
		d.audit.Close()
	}

	d.log.Info("daemon stopped")
	return nil
}

// SocketPath returns the IPC socket path once the server exists.
func (d *Daemon) SocketPath() string {
	if d.server != nil {
		return d.server.SocketPath()
	}
	return d.cfg.IPC.SocketPath
}

// requestShutdown is handed to the IPC handler; the serve loop picks
// the reason up and runs Stop outside the handler goroutine.
func (d *Daemon) requestShutdown(reason string) {
	select {
	case d.shutdownCh <- reason:
	default:
	}
}

// clientConnected runs after a client's handshake ack is on the wire.
func (d *Daemon) clientConnected(clientID string) {
	if d.audit != nil {
		d.audit.LogClientConnect(d.ctx, clientID, 0, 0)
	}
	d.engine.NotifyClientConnected(clientID)
}

// clientDisconnected runs after a client connection is removed.
func (d *Daemon) clientDisconnected(clientID string) {
	d.outbox.Remove(clientID)
	d.engine.NotifyClientDisconnected(clientID)
	if d.audit != nil {
		d.audit.LogClientDisconnect(d.ctx, clientID, "connection closed")
	}
}

// broadcastEvent fans an engine event out to subscribers and mirrors
// attach and detach transitions into the audit trail.
func (d *Daemon) broadcastEvent(ev *ipc.Event) {
	if d.audit != nil {
		data, _ := ev.Data.(map[string]any)
		switch ev.Type {
		case ipc.EventClientAttached:
			connID, _ := data["conn_id"].(int)
			inputType, _ := data["input_type"].(string)
			d.audit.LogSessionAttach(d.ctx, connID, inputType)
		case ipc.EventClientDetached:
			connID, _ := data["conn_id"].(int)
			d.audit.LogSessionDetach(d.ctx, connID)
		}
	}
	d.server.Broadcast(ev)
}

// status builds the response for textinputctl status.
func (d *Daemon) status(req *ipc.StatusRequest) *ipc.StatusResponse {
	snap := d.engine.Snapshot()

	resp := &ipc.StatusResponse{
		Version:          d.version,
		Backend:          d.backend.Name(),
		BackendRunning:   d.backendUp.Load(),
		ActiveClient:     snap.ActiveClient,
		ConnectionID:     int64(snap.ConnectionID),
		InputType:        snap.InputType,
		KeyboardVisible:  snap.KeyboardVisible,
		ConnectedClients: d.server.ClientCount(),
		AutofillEnabled:  d.store != nil,
	}

	if d.store != nil {
		if n, err := d.store.CountEntries(); err == nil {
			resp.StoreEntries = n
			metrics.GetMetrics().SetStoreEntries(n)
		}
	}

	if req != nil && req.IncludeMetrics {
		resp.Metrics = metrics.GetMetrics().Snapshot()
	}
	if req != nil && req.IncludeConfig {
		resp.Config = map[string]any{
			"socket_path":            d.cfg.IPC.SocketPath,
			"backend_preferred":      d.cfg.Backends.Preferred,
			"replay_on_restart":      d.cfg.Engine.ReplayOnRestart,
			"allow_private_commands": d.cfg.Engine.AllowPrivateCommands,
			"client_queue_size":      d.cfg.Engine.ClientQueueSize,
			"autofill_enabled":       d.cfg.Autofill.Enabled,
			"save_on_finish":         d.cfg.Autofill.SaveOnFinish,
			"retention_days":         d.cfg.Autofill.RetentionDays,
			"metrics_enabled":        d.cfg.Metrics.Enabled,
			"trace_enabled":          d.cfg.Trace.Enabled,
		}
	}
	return resp
}

func (d *Daemon) setKeyboardVisible(visible bool) (*ipc.KeyboardResponse, error) {
	if err := d.engine.SetKeyboardVisible(visible); err != nil {
		return nil, err
	}
	return &ipc.KeyboardResponse{
		KeyboardVisible: d.engine.Snapshot().KeyboardVisible,
		Backend:         d.backend.Name(),
	}, nil
}

// editingState builds the state report for the control surface. Text
// never leaves the daemon while the active field obscures input.
func (d *Daemon) editingState() *ipc.StateResponse {
	snap := d.engine.Snapshot()
	st := d.engine.EditingState()

	resp := &ipc.StateResponse{
		ActiveClient:    snap.ActiveClient,
		ConnectionID:    int64(snap.ConnectionID),
		InputType:       snap.InputType,
		KeyboardVisible: snap.KeyboardVisible,
		TextLength:      len(st.Text),
		SelectionBase:   st.SelectionBase,
		SelectionExtent: st.SelectionExtent,
		ComposingBase:   st.ComposingBase,
		ComposingExtent: st.ComposingExtent,
	}

	if cfg, ok := d.engine.ActiveConfiguration(); ok {
		resp.InputAction = cfg.Action.String()
		resp.Obscured = cfg.ObscureText
	}
	if !resp.Obscured {
		resp.Text = st.Text
	}
	return resp
}

// initTracing installs the dispatch span recorder. An unopenable trace
// file downgrades to stdout.
func (d *Daemon) initTracing() {
	if !d.cfg.Trace.Enabled {
		tracing.InitTracer(&tracing.TracerConfig{Enabled: false})
		return
	}

	var exporter tracing.Exporter
	if d.cfg.Trace.Path != "" {
		fe, err := tracing.NewFileExporter(d.cfg.Trace.Path)
		if err != nil {
			d.log.Warn("trace file unavailable, spans go to stdout", "path", d.cfg.Trace.Path, "error", err)
			exporter = tracing.NewStdoutExporter()
		} else {
			exporter = fe
		}
	} else {
		exporter = tracing.NewStdoutExporter()
	}

	tracing.InitTracer(&tracing.TracerConfig{
		ServiceName: "textinputd",
		Exporter:    exporter,
		Sampler:     tracing.NewRatioSampler(d.cfg.Trace.SampleRatio),
		Enabled:     true,
	})
	d.log.Info("dispatch tracing enabled",
		"path", d.cfg.Trace.Path,
		"sample_ratio", d.cfg.Trace.SampleRatio)
}

// registerHealthChecks wires the daemon's components into the health
// checker. Runs after the server is up so the socket path is final.
func (d *Daemon) registerHealthChecks() {
	d.health.RegisterFunc("backend", true, health.BackendCheck(
		func() string { return d.backend.Name() },
		d.backendUp.Load,
	))
	d.health.RegisterFunc("socket", true, health.SocketCheck(d.server.SocketPath()))
	if d.store != nil {
		d.health.RegisterFunc("store", false, health.StoreCheck(d.store.CountEntries))
		d.health.RegisterFunc("disk", false,
			health.DiskSpaceCheck(filepath.Dir(d.cfg.Autofill.StorePath), 32<<20))
	}
}

// startHTTPEndpoint serves the Prometheus endpoint and the health
// probes when enabled.
func (d *Daemon) startHTTPEndpoint() {
	if !d.cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.GetMetrics().Registry().HTTPHandler())
	mux.Handle("/healthz", d.health.Handler())
	mux.Handle("/livez", d.health.LivenessHandler())
	mux.Handle("/readyz", d.health.ReadinessHandler())

	ln, err := net.Listen("tcp", d.cfg.Metrics.ListenAddr)
	if err != nil {
		d.log.Error("metrics endpoint failed to listen", "addr", d.cfg.Metrics.ListenAddr, "error", err)
		return
	}
	d.httpLn = ln
	d.httpSrv = &http.Server{Handler: mux}

	go func() {
		d.log.Info("metrics endpoint listening", "addr", ln.Addr().String())
		if err := d.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("metrics endpoint failed", "addr", ln.Addr().String(), "error", err)
		}
	}()
}

// HTTPAddr returns the bound metrics listener address, empty when the
// endpoint is disabled.
func (d *Daemon) HTTPAddr() string {
	if d.httpLn != nil {
		return d.httpLn.Addr().String()
	}
	return ""
}

// watchConfig reloads the configuration file on change. Reloads are
// announced to subscribers; most settings still take effect on the next
// restart.
func (d *Daemon) watchConfig() {
	if d.configPath == "" {
		return
	}
	if _, err := os.Stat(d.configPath); err != nil {
		return
	}

	loader := config.NewLoader(d.configPath)
	loader.OnChange(func(cfg *config.Config) {
		d.log.Info("configuration reloaded, most settings apply on restart", "path", d.configPath)
		d.server.Broadcast(&ipc.Event{
			Type: ipc.EventConfigReloaded,
			Data: map[string]any{"path": d.configPath},
		})
	})
	if err := loader.Watch(); err != nil {
		d.log.Warn("config watch failed", "path", d.configPath, "error", err)
		loader.Close()
		return
	}
	d.watcher = loader

	go func() {
		for {
			select {
			case <-d.ctx.Done():
				return
			case err, ok := <-loader.Errors():
				if !ok {
					return
				}
				d.log.Warn("config reload failed", "error", err)
			}
		}
	}()
}

// The pid file is advisory; failing to write it does not stop the
// daemon, the socket-in-use check prevents double starts.
func (d *Daemon) writePidFile() {
	path := d.cfg.Daemon.PidFile
	if path == "" {
		return
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		d.log.Warn("write pid file failed", "path", path, "error", err)
	}
}

func (d *Daemon) removePidFile() {
	if d.cfg.Daemon.PidFile != "" {
		os.Remove(d.cfg.Daemon.PidFile)
	}
}

// setupLogging builds the process logger from the configuration and
// installs it as the default.
func setupLogging(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}

	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}

	log, err := logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    int64(cfg.Logging.MaxSizeMB),
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Component:  "textinputd",
	})
	if err != nil {
		return nil, err
	}
	logging.SetDefault(log)
	return log, nil
}

// cmdServe runs the daemon in the foreground until a signal or an IPC
// shutdown request arrives.
func cmdServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file")
	backendName := fs.String("backend", "", "platform backend override: auto, ibus, null")
	logLevel := fs.String("log-level", "", "log level override: debug, info, warn, error")
	socketPath := fs.String("socket", "", "IPC socket path override")
	fs.Parse(os.Args[2:])

	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *backendName != "" {
		cfg.Backends.Preferred = *backendName
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *socketPath != "" {
		cfg.IPC.SocketPath = *socketPath
	}

	if err := cfg.Validate(); err != nil {
		var verrs config.ValidationErrors
		if !errors.As(err, &verrs) || verrs.HasErrors() {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}
		for _, w := range verrs.Warnings() {
			fmt.Fprintf(os.Stderr, "Warning: %s: %s\n", w.Field, w.Message)
		}
	}

	if _, err := setupLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}

	daemon := NewDaemon(cfg, path, Version)
	if err := daemon.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("textinputd %s listening on: %s\n", Version, daemon.SocketPath())
	fmt.Printf("Backend: %s\n", daemon.backend.Name())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	uptimeTicker := time.NewTicker(30 * time.Second)
	defer uptimeTicker.Stop()

	pruneTicker := time.NewTicker(12 * time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case sig := <-sigChan:
			fmt.Println()
			fmt.Println("Shutting down...")
			if err := daemon.Stop("signal: " + sig.String()); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
			fmt.Println("Daemon stopped.")
			return

		case reason := <-daemon.shutdownCh:
			if err := daemon.Stop(reason); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
			fmt.Println("Daemon stopped.")
			return

		case <-uptimeTicker.C:
			metrics.GetMetrics().UpdateUptime()

		case <-pruneTicker.C:
			if daemon.store != nil {
				if n, err := daemon.store.Prune(); err != nil {
					daemon.log.Warn("retention prune failed", "error", err)
				} else if n > 0 {
					daemon.log.Info("pruned expired autofill values", "count", n)
				}
			}
		}
	}
}
