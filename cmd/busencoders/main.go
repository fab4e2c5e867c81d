// Command busencoders polls rotary encoders multiplexed onto a shared GPIO bus
// and publishes their index events to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/busencoders/internal/config"
	"github.com/sweeney/busencoders/internal/encoder"
	"github.com/sweeney/busencoders/internal/gpio"
	"github.com/sweeney/busencoders/internal/journal"
	"github.com/sweeney/busencoders/internal/logging"
	"github.com/sweeney/busencoders/internal/metrics"
	"github.com/sweeney/busencoders/internal/mqtt"
	"github.com/sweeney/busencoders/internal/status"
	"github.com/sweeney/busencoders/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "YAML config file (built-in defaults when empty)")
	flag.String("broker", "", "MQTT broker address (overrides config)")
	flag.String("http", "", "HTTP status address, empty to disable (overrides config)")
	flag.String("chip", "", "GPIO chip (overrides config)")
	flag.String("log-level", "", "debug, info, warn or error (overrides config)")
	printState := flag.Bool("print-state", false, "Print each encoder's line levels and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	set := make(map[string]string)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })
	applyFlags(&cfg, set)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, version)
	if err := run(cfg, *printState, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// applyFlags copies explicitly set command-line flags over the loaded config.
func applyFlags(cfg *config.Config, set map[string]string) {
	if v, ok := set["broker"]; ok {
		cfg.MQTT.Broker = v
	}
	if v, ok := set["http"]; ok {
		cfg.HTTP.Addr = v
	}
	if v, ok := set["chip"]; ok {
		cfg.Bus.Chip = v
	}
	if v, ok := set["log-level"]; ok {
		cfg.Logging.Level = v
	}
}

func run(cfg config.Config, printState bool, logger *slog.Logger) error {
	bus, err := gpio.NewRealBus(cfg.Bus.Chip, cfg.SharedLines(), cfg.SelectLines())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer bus.Close()

	arb, err := newArbiter(bus, cfg, time.Now)
	if err != nil {
		return err
	}

	if printState {
		return printLevels(os.Stdout, arb)
	}

	var publisher mqtt.Publisher = offlinePublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Enabled {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			BufferSize:  cfg.MQTT.BufferSize,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	var out sinks
	var events web.EventSource
	var history countSource
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		out.journal, events, history = j, j, j
		logger.Info("journal open", "path", j.Path())
	}

	if cfg.InfluxDB.Enabled {
		mc, err := metrics.Connect(cfg.InfluxDB)
		if err != nil {
			// Telemetry is optional; acquisition runs without it.
			logger.Warn("influxdb unavailable, continuing without telemetry", "error", err)
		} else {
			mlog := logger.With("component", "metrics")
			mc.SetOnError(func(err error) { mlog.Warn("write failed", "error", err) })
			defer mc.Close()
			out.metrics = mc
		}
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg), encoderInfos(cfg))
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	if history != nil {
		if err := seedCounts(history, tracker); err != nil {
			logger.Warn("counts start from zero", "error", err)
		}
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		logger.Warn("failed to publish startup event", "error", err)
	}

	if cfg.HTTP.Addr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		hub := web.NewHub(logger.With("component", "web"), 0)
		go hub.Run(ctx)
		out.live = hub

		srv := web.New(cfg.HTTP.Addr, tracker, web.Options{Events: events, Hub: hub})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"chip", cfg.Bus.Chip,
		"encoders", arb.Count(),
		"poll", cfg.Acquisition.PollInterval,
		"active_timeout", arb.ActiveTimeout(),
		"debounce_width", arb.DebounceWidth(),
		"heartbeat", cfg.Heartbeat,
	)

	ticker := time.NewTicker(cfg.Acquisition.PollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(arb, publisher, mqttStatus, tracker, out, cfg.Heartbeat, time.Now, ticker.C, sigCh, logger)
}

// countSource reports persisted per-encoder event counts.
type countSource interface {
	Counts(ctx context.Context) ([]journal.Count, error)
}

// seedCounts loads the journal's per-encoder totals into the tracker so the
// status page keeps counting across restarts.
func seedCounts(src countSource, tracker *status.Tracker) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := src.Counts(ctx)
	if err != nil {
		return fmt.Errorf("load journal counts: %w", err)
	}
	for _, c := range counts {
		tracker.Seed(c.Encoder, status.Counts{CW: c.CW, CCW: c.CCW, Switch: c.Switch})
	}
	return nil
}

// newArbiter builds the engine for cfg on lines and registers every encoder.
func newArbiter(lines encoder.Lines, cfg config.Config, now func() time.Time) (*encoder.Arbiter, error) {
	arb, err := encoder.NewArbiter(lines, cfg.EngineBus(), now)
	if err != nil {
		return nil, fmt.Errorf("init encoders: %w", err)
	}
	if err := arb.SetActiveTimeout(cfg.Acquisition.ActiveTimeout); err != nil {
		return nil, err
	}
	if err := arb.SetDebounceWidth(cfg.Acquisition.DebounceWidth); err != nil {
		return nil, err
	}
	if err := arb.SetSpinLimit(cfg.Acquisition.SpinLimit); err != nil {
		return nil, err
	}
	for _, e := range cfg.Encoders {
		if err := arb.Register(e.ID, e.Engine()); err != nil {
			return nil, fmt.Errorf("register: %w", err)
		}
	}
	return arb, nil
}

// printLevels writes one line per registered encoder with its A, B and
// switch levels.
func printLevels(w io.Writer, arb *encoder.Arbiter) error {
	for id := 1; id <= arb.Count(); id++ {
		cfg, ok := arb.Config(id)
		if !ok {
			continue
		}
		lv, err := arb.Probe(id)
		if err != nil {
			return fmt.Errorf("probe: %w", err)
		}
		name := cfg.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "encoder %d (%s, select %d): A=%s B=%s S=%s\n",
			id, name, cfg.SelectLine, level(lv.A), level(lv.B), level(lv.Switch))
	}
	return nil
}

func level(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

func statusConfig(cfg config.Config) status.Config {
	sc := status.Config{
		Chip:            cfg.Bus.Chip,
		PollMs:          cfg.Acquisition.PollInterval.Milliseconds(),
		ActiveTimeoutMs: cfg.Acquisition.ActiveTimeout.Milliseconds(),
		DebounceWidth:   cfg.Acquisition.DebounceWidth,
		HeartbeatMs:     cfg.Heartbeat.Milliseconds(),
		HTTPAddr:        cfg.HTTP.Addr,
	}
	if cfg.MQTT.Enabled {
		sc.Broker = cfg.MQTT.Broker
	}
	return sc
}

func encoderInfos(cfg config.Config) []status.EncoderInfo {
	out := make([]status.EncoderInfo, 0, len(cfg.Encoders))
	for _, e := range cfg.Encoders {
		out = append(out, status.EncoderInfo{
			ID:            e.ID,
			Name:          e.Name,
			Type:          e.Type,
			SelectLine:    e.SelectLine,
			Modes:         e.Modes,
			RotationIndex: e.RotationIndex,
			SwitchIndex:   e.SwitchIndex,
		})
	}
	return out
}

// acquirer is the part of the engine the run loop drives.
type acquirer interface {
	PollEvent() (encoder.Event, error)
	Focused() int
	Mode(id int) int
	Count() int
}

// sinks receive every index event after MQTT. Any of them may be nil.
type sinks struct {
	journal interface {
		Append(ctx context.Context, ev encoder.Event) error
	}
	metrics interface{ WriteEvent(ev encoder.Event) }
	live    interface{ Broadcast(ev encoder.Event) }
}

const journalTimeout = time.Second

func (s sinks) deliver(ev encoder.Event, logger *slog.Logger) {
	if s.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if err := s.journal.Append(ctx, ev); err != nil {
			logger.Warn("journal append failed", "error", err)
		}
		cancel()
	}
	if s.metrics != nil {
		s.metrics.WriteEvent(ev)
	}
	if s.live != nil {
		s.live.Broadcast(ev)
	}
}

// offlinePublisher stands in when MQTT is disabled.
type offlinePublisher struct{}

func (offlinePublisher) Publish(encoder.Event) error          { return nil }
func (offlinePublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (offlinePublisher) Close() error                         { return nil }

// runLoop polls once per tick until a signal arrives. now is read once at the
// start of every tick, before the poll.
func runLoop(arb acquirer, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, out sinks, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, logger *slog.Logger) error {
	modes := make([]int, arb.Count())
	failing := 0

	for {
		select {
		case s := <-sig:
			logger.Info("shutting down", "signal", s.String())
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     mqtt.EventShutdown,
				Reason:    signalName,
				Retained:  true,
			}
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), mqtt.EventShutdown, signalName)
			if err := publisher.PublishSystem(event); err != nil {
				logger.Warn("failed to publish shutdown event", "error", err)
			}
			return nil

		case <-tick:
			t := now()
			ev, err := arb.PollEvent()
			if err != nil {
				// A held switch or a line fault repeats every poll; log the
				// first failure of a run only.
				if failing == 0 {
					logger.Warn("poll failed", "error", err)
				}
				failing++
				tracker.RecordPollError()
			} else if failing > 0 {
				logger.Info("poll recovered", "failed_polls", failing)
				failing = 0
			}

			if ev.Index != 0 {
				logger.Debug("event", "encoder", ev.Encoder, "signal", ev.Signal.String(), "mode", ev.Mode, "index", ev.Index)
				if err := publisher.Publish(ev); err != nil {
					logger.Warn("publish error", "error", err)
				}
				out.deliver(ev, logger)
				tracker.Record(ev)
			}

			for i := range modes {
				modes[i] = arb.Mode(i + 1)
			}
			tracker.Update(arb.Focused(), modes)
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

			if tracker.DueHeartbeat(t, heartbeat) {
				snap := tracker.Snapshot()
				logger.Info("heartbeat", "uptime", snap.Uptime().Truncate(time.Second), "events", snap.Totals().Total(), "poll_errors", snap.PollErrors)
				hb := mqtt.SystemEvent{
					Timestamp:  t,
					Event:      mqtt.EventHeartbeat,
					RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
				}
				if err := publisher.PublishSystem(hb); err != nil {
					logger.Warn("heartbeat publish error", "error", err)
				}
			}
		}
	}
}
