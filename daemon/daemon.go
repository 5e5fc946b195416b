package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"sidecar/channel"
	"sidecar/internal/config"
	"sidecar/internal/logging"
	"sidecar/plugin"
)

// State represents the daemon's current state
type State string

const (
	// StateIdle indicates the daemon has been created but not started
	StateIdle State = "idle"
	// StateRunning indicates the daemon is serving channels and plugins
	StateRunning State = "running"
	// StateStopped indicates the daemon has been stopped
	StateStopped State = "stopped"

	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Daemon is the host process: it owns the broker, starts the channels,
// and drives plugin reloads. Channels and commands never hold a
// registry reference across a reload; they go through plugin.Active()
// on every use.
type Daemon struct {
	mu           sync.RWMutex
	state        State
	config       *config.Config
	workspaceDir string
	broker       *Broker
	channels     map[string]channel.Channel
	watcher      *Watcher
	reloading    atomic.Bool
	log          logrus.FieldLogger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// New creates a new daemon instance
func New(cfg *config.Config, workspaceDir string) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		state:        StateIdle,
		config:       cfg,
		workspaceDir: workspaceDir,
		broker:       NewBroker(),
		channels:     make(map[string]channel.Channel),
		log:          logging.Subsystem("daemon"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start performs the initial plugin load, starts the enabled channels,
// and begins watching the workspace when configured
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateIdle {
		return fmt.Errorf("daemon already started")
	}

	d.log.Info("starting daemon")

	// Create context with mode
	ctx := context.WithValue(d.ctx, "mode", d.config.Mode)
	ctx = context.WithValue(ctx, "daemon", d)
	ctx = context.WithValue(ctx, "config", d.config)

	// Configure broker
	d.broker.SetPublishTimeout(time.Duration(d.config.Daemon.PublishTimeout) * time.Second)

	// Initial plugin load. A failed initial load is not fatal: the
	// daemon runs with an empty plugin set and a later reload can
	// recover.
	res := plugin.Reload(ctx, d.reloadOptions())
	if !res.OK {
		d.log.WithField("error", res.Err).Error("initial plugin load failed")
	} else {
		d.log.WithFields(logrus.Fields{
			"plugins": res.PluginCount,
			"hooks":   res.HookCount,
		}).Info("initial plugin load complete")
	}

	// Start channels
	for _, c := range channel.GetRegistry().All() {
		name := c.Name()

		if !d.config.IsChannelEnabled(name) {
			d.log.WithField("channel", name).Debug("channel disabled in config, skipping")
			continue
		}

		if err := c.CheckRequirements(ctx); err != nil {
			d.log.WithFields(logrus.Fields{
				"channel": name,
				"error":   err,
			}).Warn("channel requirements failed, skipping")
			continue
		}

		d.log.WithField("channel", name).Info("starting channel")
		if err := c.Start(ctx, d.broker); err != nil {
			d.log.WithFields(logrus.Fields{
				"channel": name,
				"error":   err,
			}).Error("failed to start channel")
			continue
		}

		d.channels[name] = c
	}

	d.log.WithField("channels", len(d.channels)).Info("channels started")

	// Relay inbound messages to plugin hooks
	msgCh := d.broker.Subscribe("daemon-hooks", 16, "message")
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.relayHooks(ctx, msgCh)
	}()

	// Watch the workspace plugin directory when enabled
	if d.config.Plugins.Watch && d.workspaceDir != "" {
		w, err := NewWatcher(d.workspaceDir, func(path string) {
			d.log.WithField("path", path).Info("workspace change detected")
			d.TriggerReload(ctx, "workspace change")
		})
		if err != nil {
			d.log.WithField("error", err).Warn("workspace watcher unavailable")
		} else if err := w.Start(ctx); err != nil {
			d.log.WithField("error", err).Warn("workspace watcher failed to start")
		} else {
			d.watcher = w
		}
	}

	d.state = StateRunning

	if err := plugin.Hooks().Dispatch(ctx, plugin.Event{Name: "daemon.start", Source: "daemon"}); err != nil {
		d.log.WithField("error", err).Warn("daemon.start hooks reported errors")
	}

	return nil
}

// Stop stops the daemon, its channels, and the broker
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStopped {
		return nil
	}

	d.log.Info("stopping daemon")

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := plugin.Hooks().Dispatch(ctx, plugin.Event{Name: "daemon.stop", Source: "daemon"}); err != nil {
		d.log.WithField("error", err).Warn("daemon.stop hooks reported errors")
	}

	if d.watcher != nil {
		d.watcher.Stop()
		d.watcher = nil
	}

	// Cancel context
	d.cancel()

	// Stop all channels
	for name, c := range d.channels {
		d.log.WithField("channel", name).Info("stopping channel")
		if err := c.Stop(ctx); err != nil {
			d.log.WithFields(logrus.Fields{
				"channel": name,
				"error":   err,
			}).Error("error stopping channel")
		}
	}

	// Close broker
	d.broker.Close()

	// Wait for goroutines
	d.wg.Wait()

	d.state = StateStopped
	d.log.Info("daemon stopped")

	return nil
}

// TriggerReload runs one plugin reload and reports the outcome. Reloads
// are serialized with an in-flight guard: a trigger that arrives while
// another reload runs is rejected rather than queued.
func (d *Daemon) TriggerReload(ctx context.Context, reason string) plugin.Result {
	if !d.reloading.CompareAndSwap(false, true) {
		d.log.WithField("reason", reason).Warn("reload already in progress, ignoring trigger")
		return plugin.Result{OK: false, Err: "reload already in progress"}
	}
	defer d.reloading.Store(false)

	d.log.WithField("reason", reason).Info("reload triggered")

	res := plugin.Reload(ctx, d.reloadOptions())

	var note string
	if res.OK {
		note = fmt.Sprintf("Plugins reloaded: %d plugin(s), %d hook(s) in %s",
			res.PluginCount, res.HookCount, res.Duration.Round(time.Millisecond))
	} else {
		note = fmt.Sprintf("Plugin reload failed: %s", res.Err)
	}

	if err := d.broker.Publish(ctx, channel.Message{
		Topic:   "notification",
		Payload: note,
		Source:  "daemon",
		Metadata: map[string]interface{}{
			"reason": reason,
			"ok":     res.OK,
		},
	}); err != nil {
		d.log.WithField("error", err).Warn("failed to publish reload notification")
	}

	return res
}

// CallGateway invokes a gateway method from the active registry
func (d *Daemon) CallGateway(ctx context.Context, method string, params map[string]interface{}) (interface{}, error) {
	handler, ok := plugin.Active().Gateway(method)
	if !ok {
		return nil, fmt.Errorf("unknown gateway method: %s", method)
	}
	return handler(ctx, params)
}

// GetStatus returns a human-readable daemon status summary
func (d *Daemon) GetStatus(ctx context.Context) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	reg := plugin.Active()

	status := fmt.Sprintf("Daemon Status:\n")
	status += fmt.Sprintf("  State: %s\n", d.state)
	status += fmt.Sprintf("  Mode: %s\n", d.config.Mode)
	status += fmt.Sprintf("  Channels: %d\n", len(d.channels))
	status += fmt.Sprintf("  Plugins: %d loaded (%d total)\n", reg.LoadedCount(), len(reg.Plugins()))
	status += fmt.Sprintf("  Hooks: %d\n", reg.HookCount())
	status += fmt.Sprintf("  Gateway Methods: %d\n", len(reg.GatewayMethods()))
	status += fmt.Sprintf("  Registry: %s (built %s)\n", reg.Generation()[:8], reg.CreatedAt().Format(time.RFC3339))

	return status
}

// GetState returns the current daemon state
func (d *Daemon) GetState() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// GetBroker returns the message broker
func (d *Daemon) GetBroker() *Broker {
	return d.broker
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// reloadOptions builds the reload options from the daemon's config and
// host gateway handlers
func (d *Daemon) reloadOptions() plugin.Options {
	return plugin.Options{
		Config:       d.config,
		WorkspaceDir: d.workspaceDir,
		CoreGateway:  d.coreGateway(),
	}
}

// coreGateway exposes host operations to plugins and transports as
// gateway methods
func (d *Daemon) coreGateway() map[string]plugin.GatewayHandler {
	return map[string]plugin.GatewayHandler{
		"status": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			reg := plugin.Active()
			return map[string]interface{}{
				"state":    string(d.GetState()),
				"plugins":  reg.LoadedCount(),
				"hooks":    reg.HookCount(),
				"registry": reg.Generation(),
			}, nil
		},
		"plugins.list": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			plugins := plugin.Active().Plugins()
			out := make([]map[string]interface{}, 0, len(plugins))
			for _, p := range plugins {
				entry := map[string]interface{}{
					"id":      p.ID,
					"version": p.Version,
					"status":  string(p.Status),
				}
				if p.Err != "" {
					entry["error"] = p.Err
				}
				out = append(out, entry)
			}
			sort.Slice(out, func(i, j int) bool {
				return out[i]["id"].(string) < out[j]["id"].(string)
			})
			return out, nil
		},
		"reload": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			reason, _ := params["reason"].(string)
			if reason == "" {
				reason = "gateway request"
			}
			res := d.TriggerReload(ctx, reason)
			out := map[string]interface{}{
				"ok":          res.OK,
				"duration_ms": res.Duration.Milliseconds(),
			}
			if res.OK {
				out["plugins"] = res.PluginCount
				out["hooks"] = res.HookCount
			} else {
				out["error"] = res.Err
			}
			return out, nil
		},
	}
}

// relayHooks dispatches inbound channel messages to plugin hooks
func (d *Daemon) relayHooks(ctx context.Context, msgCh <-chan channel.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			ev := plugin.Event{
				Name:    "message.received",
				Payload: msg.Payload,
				Source:  msg.Source,
			}
			if err := plugin.Hooks().Dispatch(ctx, ev); err != nil {
				d.log.WithFields(logrus.Fields{
					"event": ev.Name,
					"error": err,
				}).Warn("hook dispatch reported errors")
			}
		}
	}
}
