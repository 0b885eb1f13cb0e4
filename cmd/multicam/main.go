// MultiCam Core - camera fleet command dispatcher
//
// This is the main entry point for the MultiCam Core application.
// MultiCam Core keeps an authenticated session open to every camera in a
// production fleet and fans operator actions (start recording, presets,
// tally) out to the right cameras from a single HTTP, WebSocket or MQTT
// trigger.
//
// The same YAML file carries process settings and the camera/button
// lists. See configs/config.yaml for an annotated example.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/multicam-core/internal/api"
	"github.com/nerrad567/multicam-core/internal/browser"
	"github.com/nerrad567/multicam-core/internal/controller"
	"github.com/nerrad567/multicam-core/internal/dispatch"
	"github.com/nerrad567/multicam-core/internal/events"
	"github.com/nerrad567/multicam-core/internal/fleet"
	"github.com/nerrad567/multicam-core/internal/infrastructure/config"
	"github.com/nerrad567/multicam-core/internal/infrastructure/logging"
	"github.com/nerrad567/multicam-core/internal/infrastructure/metrics"
	"github.com/nerrad567/multicam-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/multicam-core/internal/liveness"
	"github.com/nerrad567/multicam-core/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	configPath string
	issueToken string
}

// parseFlags parses the command line. -config falls back to
// MULTICAM_CONFIG, then to the default path.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("multicam", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "path to the YAML config file")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print a signed API token for `subject` and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//   - stdout: Destination for -issue-token output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	// Use default logger until config is loaded
	log := logging.Default()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.issueToken != "" {
		return issueToken(cfg, opts.issueToken, stdout)
	}

	log.Info("starting MultiCam Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)
	log.Info("configuration loaded", "path", opts.configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty; command endpoints accept unauthenticated requests")
	}

	m := metrics.New()

	// Session engine
	engine, closeEngine := newEngine(cfg, log.Component("engine"))
	defer func() {
		if closeErr := closeEngine(); closeErr != nil {
			log.Error("error closing session engine", "error", closeErr)
		}
	}()

	sessions := session.NewManager(engine, session.Options{
		ConnectTimeout: cfg.Sessions.ConnectTimeout,
		ProbeTimeout:   cfg.Sessions.ProbeTimeout,
	}, log.Component("sessions"))
	sessions.SetObserver(m)
	defer func() {
		log.Info("releasing camera sessions")
		sessions.ShutdownAll()
	}()
	log.Info("session engine ready", "engine", engine.Name())

	// Device registry
	reg, warnings := fleet.LoadFile(opts.configPath)
	for _, w := range warnings {
		log.Warn("config warning", "warning", w.String())
	}
	if fatal, ok := fleet.FatalWarning(warnings); ok {
		log.Error("device config unusable, starting with an empty registry", "error", fatal.Message)
	}
	handle := fleet.NewHandle(reg)
	sessions.SetRegistry(handle)
	log.Info("device registry loaded",
		"cameras", reg.DeviceCount(),
		"buttons", len(reg.Actions()),
	)

	// Event sinks: WebSocket hub, log, and MQTT when enabled
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	sinks := events.Fanout{hub, events.NewLogSink(log.Component("events"))}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log.Component("mqtt"))
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"topic_prefix", mqttClient.Topics().Prefix,
		)

		sinks = append(sinks, events.NewMQTTSink(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS), log.Component("events")))
	} else {
		log.Info("MQTT disabled")
	}

	// Liveness, dispatch, controller
	monitor := liveness.NewMonitor(handle, sessions, sinks, cfg.Liveness.Interval, log.Component("liveness"))
	monitor.SetGauge(m)

	dispatcher := dispatch.New(handle, sessions, monitor, sinks, log.Component("dispatch"), dispatch.Options{
		CommandTimeout: cfg.Sessions.CommandTimeout,
	})
	dispatcher.SetRecorder(m)

	ctrl := controller.New(opts.configPath, handle, sessions, monitor, dispatcher, sinks, log.Component("controller"))
	ctrl.SetRecorder(m)
	defer ctrl.Close()

	if mqttClient != nil {
		if subErr := ctrl.SubscribeTriggers(mqttClient, mqttClient.Topics(), byte(cfg.MQTT.QoS)); subErr != nil {
			return fmt.Errorf("subscribing MQTT triggers: %w", subErr)
		}
		log.Info("MQTT triggers subscribed", "topic", mqttClient.Topics().CommandRun())
	}

	// Config file watcher
	if cfg.WatchEnabled() {
		watcher, watchErr := config.NewWatcher(opts.configPath, func() {
			ctrl.Go(func(ctx context.Context) {
				if _, reloadErr := ctrl.Reload(ctx); reloadErr != nil {
					log.Error("automatic reload failed", "error", reloadErr)
				}
			})
		}, log.Component("watcher"))
		if watchErr != nil {
			return fmt.Errorf("creating config watcher: %w", watchErr)
		}
		if startErr := watcher.Start(ctx); startErr != nil {
			return fmt.Errorf("starting config watcher: %w", startErr)
		}
		defer func() {
			if closeErr := watcher.Close(); closeErr != nil {
				log.Error("error closing config watcher", "error", closeErr)
			}
		}()
		log.Info("watching config file", "path", opts.configPath)
	}

	// HTTP API
	deps := api.Deps{
		Config:   cfg.API,
		Port:     cfg.Settings.Port,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Core:     ctrl,
		Metrics:  m.Handler(),
		Engine:   engine.Name(),
		Hub:      hub,
		Version:  version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	monitor.Start(ctx)
	defer monitor.Stop()

	// Open sessions in the background so the API is reachable immediately
	ctrl.Go(func(ctx context.Context) {
		results := ctrl.ConnectAll(ctx, false)
		online := 0
		for _, r := range results {
			if r.OK {
				online++
			}
		}
		log.Info("initial connect complete", "cameras", controller.SummaryText(online, len(results)))
	})

	log.Info("initialisation complete, waiting for shutdown signal", "address", srv.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Liveness monitor
	// 2. API server
	// 3. Config watcher
	// 4. Controller (MQTT triggers, background work)
	// 5. MQTT
	// 6. Camera sessions
	// 7. Session engine

	log.Info("MultiCam Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MULTICAM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MULTICAM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newEngine returns the configured session engine and its cleanup func.
func newEngine(cfg *config.Config, log *logging.Logger) (session.Engine, func() error) {
	if strings.EqualFold(cfg.Sessions.Engine, config.EngineBrowser) {
		e := browser.New(browser.Options{
			Headless: cfg.Sessions.Browser.Headless,
			ExecPath: cfg.Sessions.Browser.ExecPath,

			InsecureSkipVerify: cfg.Sessions.InsecureSkipVerify,
		}, log)
		return e, e.Close
	}
	return &session.HTTPEngine{InsecureSkipVerify: cfg.Sessions.InsecureSkipVerify}, func() error { return nil }
}

// issueToken writes a signed API token for subject to w.
func issueToken(cfg *config.Config, subject string, w io.Writer) error {
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret must be set to issue tokens")
	}
	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
