package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benvon/cometblue-bridge/internal/core"
	"github.com/benvon/cometblue-bridge/internal/devices/cometblue"
	"github.com/benvon/cometblue-bridge/internal/devices/simulated"
	"github.com/benvon/cometblue-bridge/internal/handlers"
	"github.com/benvon/cometblue-bridge/internal/homeassistant"
	"github.com/benvon/cometblue-bridge/internal/logger"
	"github.com/benvon/cometblue-bridge/internal/services"
	"github.com/benvon/cometblue-bridge/pkg/config"
	"github.com/benvon/cometblue-bridge/pkg/model"
)

const (
	mqttConnectTimeout = 10 * time.Second
	shutdownTimeout    = 10 * time.Second
	scanDuty           = 10 * time.Second
	scanPause          = 20 * time.Second
)

var serveSimulate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long: `Poll every configured thermostat, publish it to Home Assistant over MQTT
when enabled and serve the HTTP API until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveSimulate, "simulate", false, "Use in-memory thermostats instead of Bluetooth")
}

// Application holds all the application components
type Application struct {
	Config       *config.Config
	Coordinators []*core.Coordinator[model.Snapshot]
	Registry     *services.Registry
	Services     *services.Services
	Health       *core.HealthChecker
	Metrics      *core.MetricsCollector
	Scanner      *cometblue.Scanner
	Bridge       *homeassistant.Bridge
	MQTT         mqtt.Client
	closers      []func() error
	Logger       *zap.SugaredLogger
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Bridge.LogLevel, cfg.Bridge.LogFormat)
	defer func() { _ = log.Sync() }()
	log.Infow("Starting Comet Blue bridge", "version", version, "devices", len(cfg.Devices), "simulate", serveSimulate)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := initializeApp(cfg, serveSimulate, log)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer app.Close()

	return app.Run(ctx)
}

// initializeApp wires the coordinators and their consumers
func initializeApp(cfg *config.Config, simulate bool, log *zap.SugaredLogger) (*Application, error) {
	app := &Application{
		Config:   cfg,
		Registry: services.NewRegistry(),
		Health:   core.NewHealthChecker(),
		Metrics:  core.NewMetricsCollector(),
		Logger:   log,
	}

	var store core.Store[model.Snapshot]
	if cfg.Bridge.StateDB != "" {
		sqlite, err := core.NewSQLiteStore[model.Snapshot](cfg.Bridge.StateDB)
		if err != nil {
			return nil, fmt.Errorf("opening state database: %w", err)
		}
		app.closers = append(app.closers, sqlite.Close)
		store = sqlite
	}

	presence := model.AlwaysPresent
	if !simulate {
		if err := cometblue.InitAdapter(); err != nil {
			return nil, err
		}
		if cfg.Scanner.Enabled {
			app.Scanner = cometblue.NewScanner(cfg.Scanner.PresenceWindow, log.Named("scanner"))
			presence = app.Scanner
		}
	}

	for _, dc := range cfg.Devices {
		var device model.Device
		if simulate {
			device = simulated.NewDevice(dc.Address)
		} else {
			device = cometblue.NewDevice(dc.Address, dc.PIN, log.Named("ble"))
		}

		coordinator := core.NewCoordinator[model.Snapshot](device, core.SnapshotStrategy{}, store, core.Options{
			Name:         dc.DisplayName(),
			Retry:        cfg.RetryPolicy(dc),
			Timeout:      dc.Timeout,
			PollInterval: cfg.Bridge.PollInterval,
			Presence:     presence,
			Metrics:      app.Metrics,
			Logger:       log,
		})
		app.Coordinators = append(app.Coordinators, coordinator)
		app.Registry.Register(coordinator)
		app.Health.Add(coordinator)
	}

	app.Services = services.New(app.Registry, log.Named("services"))

	if cfg.MQTT.Enabled {
		app.connectMQTT()
	}

	return app, nil
}

// connectMQTT creates the broker client. Discovery and subscriptions are
// (re)done on every connect so a broker restart is recovered from.
func (a *Application) connectMQTT() {
	cfg := a.Config.MQTT
	log := a.Logger.Named("mqtt")

	opts := cfg.ClientOptions(log)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infow("Connected to MQTT broker", "broker", cfg.Broker)
		if err := a.Bridge.Subscribe(); err != nil {
			log.Errorw("Failed to subscribe", "error", err)
		}
		for _, entry := range a.Registry.Entries() {
			if err := a.Bridge.Register(entry); err != nil {
				log.Errorw("Failed to publish discovery", "entity_id", entry.EntityID(), "error", err)
				continue
			}
			if err := a.Bridge.PublishState(entry); err != nil {
				log.Warnw("Failed to publish state", "entity_id", entry.EntityID(), "error", err)
			}
		}
	})

	a.MQTT = mqtt.NewClient(opts)
	a.Bridge = homeassistant.New(a.MQTT, a.Registry, a.Services, cfg.DiscoveryPrefix, cfg.TopicPrefix, log)

	for _, entry := range a.Registry.Entries() {
		a.Bridge.Watch(entry)
	}
}

// Run sets every device up and blocks until ctx is done
func (a *Application) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if a.Scanner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runScanner(ctx)
		}()
	}

	if a.MQTT != nil {
		token := a.MQTT.Connect()
		if !token.WaitTimeout(mqttConnectTimeout) {
			a.Logger.Warnw("MQTT connect still pending, continuing in background", "broker", a.Config.MQTT.Broker)
		} else if err := token.Error(); err != nil {
			a.Logger.Errorw("Failed to connect to MQTT broker, retrying in background", "broker", a.Config.MQTT.Broker, "error", err)
		}
	}

	for _, coordinator := range a.Coordinators {
		wg.Add(1)
		go func(c *core.Coordinator[model.Snapshot]) {
			defer wg.Done()
			a.runCoordinator(ctx, c)
		}(coordinator)
	}

	server := a.startHTTPServer()

	<-ctx.Done()
	a.Logger.Info("Shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Errorw("Failed to shutdown HTTP server", "error", err)
		}
	}

	wg.Wait()
	a.publishOffline()
	return nil
}

// runCoordinator seeds the cache, tries the first refresh and polls.
// A device that is not ready yet is picked up by the poll loop.
func (a *Application) runCoordinator(ctx context.Context, c *core.Coordinator[model.Snapshot]) {
	log := a.Logger.With("device", c.Name(), "address", c.Address())

	if err := c.Restore(ctx); err != nil {
		log.Warnw("Failed to restore stored snapshot", "error", err)
	}
	if err := c.FirstRefresh(ctx); err != nil {
		log.Warnw("Device not ready, will keep polling", "error", err)
	}

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("Coordinator stopped", "error", err)
	}
}

// runScanner alternates short scans with pauses to leave the radio to the
// coordinators
func (a *Application) runScanner(ctx context.Context) {
	for {
		if err := a.Scanner.Run(ctx, scanDuty); err != nil {
			a.Logger.Warnw("BLE scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(scanPause):
		}
	}
}

func (a *Application) startHTTPServer() *http.Server {
	if a.Config.Bridge.HTTPPort <= 0 {
		return nil
	}

	handler := handlers.NewHandler(a.Registry, a.Services, a.Health, a.Metrics, a.Logger.Named("http"))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Bridge.HTTPPort),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		a.Logger.Infow("Starting HTTP server", "port", a.Config.Bridge.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Errorw("HTTP server failed", "error", err)
		}
	}()
	return server
}

// publishOffline marks every entity unavailable before disconnecting
func (a *Application) publishOffline() {
	if a.MQTT == nil || !a.MQTT.IsConnectionOpen() {
		return
	}
	for _, entry := range a.Registry.Entries() {
		a.Bridge.PublishOffline(entry)
	}
	a.MQTT.Disconnect(250)
}

// Close releases the resources opened by initializeApp
func (a *Application) Close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.Logger.Warnw("Failed to close resource", "error", err)
		}
	}
}
