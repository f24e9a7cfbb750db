package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/salernoelia/haptic-hand-controller-prototype/bridge"
	"github.com/salernoelia/haptic-hand-controller-prototype/component"
	"github.com/salernoelia/haptic-hand-controller-prototype/config"
	"github.com/salernoelia/haptic-hand-controller-prototype/health"
	inputosc "github.com/salernoelia/haptic-hand-controller-prototype/input/osc"
	"github.com/salernoelia/haptic-hand-controller-prototype/metric"
	"github.com/salernoelia/haptic-hand-controller-prototype/natsclient"
	"github.com/salernoelia/haptic-hand-controller-prototype/output/file"
	outputosc "github.com/salernoelia/haptic-hand-controller-prototype/output/osc"
	"github.com/salernoelia/haptic-hand-controller-prototype/output/websocket"
	"github.com/salernoelia/haptic-hand-controller-prototype/processor/actuation"
	"github.com/salernoelia/haptic-hand-controller-prototype/processor/telemetry"
)

// app owns every component of a running bridge
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry    *metric.MetricsRegistry
	manager     *component.Manager
	store       *file.Store
	recorder    *telemetry.Recorder
	sender      *outputosc.Sender
	sequencer   *actuation.Sequencer
	broadcaster *websocket.Broadcaster
	controller  *bridge.Controller
	listener    *inputosc.Listener
	nats        *natsclient.Client // nil when the mirror is disabled

	openCancel context.CancelFunc
	openWG     sync.WaitGroup
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.registry = metric.NewMetricsRegistry()
		a.manager = component.NewManager(logger, component.WithStatusRecorder(a.registry.CoreMetrics()))
	} else {
		a.manager = component.NewManager(logger)
	}

	a.store = file.NewStore(file.StoreDeps{
		Name: "telemetry-file",
		Config: file.Config{
			Path: cfg.Telemetry.Path,
			Sync: cfg.Telemetry.Sync,
		},
		Logger: logger,
	})

	a.sender = outputosc.NewSender(outputosc.SenderDeps{
		Name: "osc-sender",
		Config: outputosc.Config{
			RemoteHost: cfg.Outbound.Host,
			RemotePort: cfg.Outbound.Port,
			LocalBind:  cfg.Outbound.LocalBind,
			LocalPort:  cfg.Outbound.LocalPort,
		},
		MetricsRegistry: a.registry,
		Logger:          logger,
	})

	a.sequencer = actuation.NewSequencer(actuation.SequencerDeps{
		Name:            "actuation",
		Sender:          a.sender,
		Readiness:       a.sender.Readiness(),
		DefaultDuration: cfg.Actuation.Duration.Std(),
		MetricsRegistry: a.registry,
		Logger:          logger,
	})

	a.broadcaster = websocket.NewBroadcaster(websocket.BroadcasterDeps{
		Name: "websocket",
		Config: websocket.Config{
			Bind:         cfg.Consumers.Bind,
			Port:         cfg.Consumers.Port,
			Path:         cfg.Consumers.Path,
			PingInterval: cfg.Consumers.PingInterval.Std(),
			WriteTimeout: cfg.Consumers.WriteTimeout.Std(),
			SendQueue:    cfg.Consumers.SendQueue,
		},
		MetricsRegistry: a.registry,
		Logger:          logger,
	})
	return a
}

// connectNATS brings up the optional mirror. Failure disables the mirror and
// the remote trigger but never stops the bridge.
func (a *app) connectNATS(ctx context.Context) []telemetry.Sink {
	nc := a.cfg.NATS
	if !nc.Enabled {
		return nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.registry),
	}
	switch {
	case nc.Token != "":
		opts = append(opts, natsclient.WithToken(nc.Token))
	case nc.Username != "":
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}

	client, err := natsclient.NewClient(nc.URL, opts...)
	if err == nil {
		err = client.Connect(ctx)
	}
	if err != nil {
		a.logger.Warn("NATS unavailable, telemetry mirror disabled", "error", err)
		return nil
	}
	a.nats = client

	if nc.JetStream {
		if _, err := client.EnsureStream(ctx, nc.Stream, nc.Subject); err != nil {
			a.logger.Warn("Stream setup failed, publishing on core NATS", "stream", nc.Stream, "error", err)
			nc.JetStream = false
		}
	}
	return []telemetry.Sink{telemetry.NewNATSSink(client, telemetry.NATSSinkConfig{
		Subject:   nc.Subject,
		JetStream: nc.JetStream,
	})}
}

func (a *app) routes() map[string]bridge.Route {
	if len(a.cfg.Routes) == 0 {
		return bridge.DefaultRoutes(a.cfg.Telemetry.Address)
	}
	routes := make(map[string]bridge.Route, len(a.cfg.Routes))
	for addr, action := range a.cfg.Routes {
		routes[addr] = bridge.Route{Action: bridge.Action(action), Description: "configured"}
	}
	return routes
}

// Start wires the remaining components and starts them in dependency order.
// The outbound sender opens in the background; vibration requests are
// refused until it is ready.
func (a *app) Start(ctx context.Context, stopTimeout time.Duration) error {
	sinks := append([]telemetry.Sink{a.store}, a.connectNATS(ctx)...)
	a.recorder = telemetry.NewRecorder(telemetry.RecorderDeps{
		Name:            "telemetry",
		Address:         a.cfg.Telemetry.Address,
		Sinks:           sinks,
		QueueSize:       a.cfg.Telemetry.QueueSize,
		MetricsRegistry: a.registry,
		Logger:          a.logger,
	})

	var err error
	a.controller, err = bridge.NewController(bridge.ControllerDeps{
		Name:              "controller",
		Routes:            a.routes(),
		Broadcaster:       a.broadcaster,
		Recorder:          a.recorder,
		Sequencer:         a.sequencer,
		Trigger:           a.cfg.Actuation.Trigger,
		ActuationDuration: a.cfg.Actuation.Duration.Std(),
		QueueSize:         a.cfg.Telemetry.QueueSize,
		MetricsRegistry:   a.registry,
		Logger:            a.logger,
	})
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}

	a.listener = inputosc.NewListener(inputosc.ListenerDeps{
		Name:            "osc-listener",
		Config:          inputosc.Config{Bind: a.cfg.Inbound.Bind, Port: a.cfg.Inbound.Port},
		Handler:         a.controller.Dispatch,
		MetricsRegistry: a.registry,
		Logger:          a.logger,
	})

	a.broadcaster.OnMessage(a.controller.HandleConsumerMessage)
	if a.cfg.Metrics.Enabled {
		if err := a.broadcaster.Handle(a.cfg.Metrics.Path, metric.Handler(a.registry)); err != nil {
			return err
		}
		monitor := health.NewMonitor(a.registry.CoreMetrics())
		if err := a.broadcaster.Handle(a.cfg.Metrics.HealthPath, health.Handler(appName, monitor, a.components)); err != nil {
			return err
		}
	}

	if a.nats != nil && a.cfg.NATS.ActuateSubject != "" {
		if err := a.nats.Subscribe(ctx, a.cfg.NATS.ActuateSubject, a.controller.HandleRemoteTrigger); err != nil {
			a.logger.Warn("Remote trigger unavailable", "subject", a.cfg.NATS.ActuateSubject, "error", err)
		}
	}

	for _, c := range []component.LifecycleComponent{
		a.store, a.recorder, a.sequencer, a.broadcaster, a.controller, a.listener,
	} {
		if err := a.manager.Add(c); err != nil {
			return err
		}
	}
	if err := a.manager.Start(ctx, stopTimeout); err != nil {
		return err
	}

	openCtx, cancel := context.WithCancel(ctx)
	a.openCancel = cancel
	a.openWG.Add(1)
	go func() {
		defer a.openWG.Done()
		if err := a.sender.Open(openCtx); err != nil {
			a.logger.Error("Outbound port failed to open, vibration disabled", "error", err)
		}
	}()

	a.logger.Info("Haptic bridge started",
		"inbound", a.listener.Addr(),
		"consumers", a.broadcaster.Addr(),
		"device", fmt.Sprintf("%s:%d", a.cfg.Outbound.Host, a.cfg.Outbound.Port))
	return nil
}

// components lists everything reported on the health endpoint
func (a *app) components() []component.Discoverable {
	out := a.manager.Components()
	out = append(out, a.sender)
	if a.nats != nil {
		out = append(out, a.nats)
	}
	return out
}

// Stop removes the remote trigger, shuts components down in reverse start
// order, then closes the outbound port and the NATS connection.
func (a *app) Stop(timeout time.Duration) error {
	if a.nats != nil && a.cfg.NATS.ActuateSubject != "" {
		if err := a.nats.Unsubscribe(a.cfg.NATS.ActuateSubject); err != nil {
			a.logger.Warn("Remote trigger unsubscribe failed", "error", err)
		}
	}
	err := a.manager.Stop(timeout)

	if a.openCancel != nil {
		a.openCancel()
	}
	a.openWG.Wait()
	if cerr := a.sender.Close(); cerr != nil && err == nil {
		err = cerr
	}

	if a.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if cerr := a.nats.Close(ctx); cerr != nil {
			a.logger.Warn("NATS close failed", "error", cerr)
		}
	}
	return err
}
