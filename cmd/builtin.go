package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sidecar/internal/config"
	"sidecar/plugin"
)

// timeUnit is the rounding applied to durations shown to users
const timeUnit = time.Millisecond

// init registers built-in commands
func init() {
	Register(&plugin.Command{
		Name:        "help",
		Description: "Show available commands or help for a specific command",
		Usage:       "[command]",
		Handler:     handleHelp,
		Modes:       []config.Mode{config.ModeDaemon, config.ModeInteractive},
	})

	Register(&plugin.Command{
		Name:        "status",
		Description: "Show daemon status and the active plugin set",
		Usage:       "",
		Handler:     handleStatus,
		Modes:       []config.Mode{config.ModeDaemon, config.ModeInteractive},
	})

	Register(&plugin.Command{
		Name:        "plugins",
		Description: "List the currently active plugins with their status",
		Usage:       "",
		Handler:     handlePlugins,
		Modes:       []config.Mode{config.ModeDaemon, config.ModeInteractive},
	})

	Register(&plugin.Command{
		Name:        "reload",
		Description: "Hot-reload the plugin set without restarting",
		Usage:       "",
		Handler:     handleReload,
		Modes:       []config.Mode{config.ModeDaemon, config.ModeInteractive},
	})
}

// Reloader triggers a serialized plugin reload
type Reloader interface {
	TriggerReload(ctx context.Context, reason string) plugin.Result
}

// StatusProvider returns a status description for the host
type StatusProvider interface {
	GetStatus(ctx context.Context) string
}

// handleHelp shows help for all commands or a specific command
func handleHelp(ctx context.Context, args []string) (*plugin.CommandResult, error) {
	router := NewRouter()

	if len(args) > 0 {
		cmdName := strings.TrimPrefix(args[0], "/")
		helpText, err := router.GetCommandHelp(cmdName)
		if err != nil {
			return nil, err
		}
		return &plugin.CommandResult{Output: helpText}, nil
	}

	mode, ok := ctx.Value("mode").(config.Mode)
	if !ok {
		mode = config.ModeDaemon
	}

	return &plugin.CommandResult{Output: router.GetHelp(mode)}, nil
}

// handleStatus shows the current daemon status
func handleStatus(ctx context.Context, args []string) (*plugin.CommandResult, error) {
	daemon, ok := ctx.Value("daemon").(StatusProvider)
	if !ok {
		return &plugin.CommandResult{
			Output: "Status: Running (daemon context not available)",
		}, nil
	}

	return &plugin.CommandResult{Output: daemon.GetStatus(ctx)}, nil
}

// handlePlugins lists the active registry's plugins
func handlePlugins(ctx context.Context, args []string) (*plugin.CommandResult, error) {
	plugins := plugin.Active().Plugins()
	if len(plugins) == 0 {
		return &plugin.CommandResult{Output: "No plugins found"}, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Plugins (%d):\n\n", len(plugins)))

	for i, p := range plugins {
		sb.WriteString(fmt.Sprintf("%d. %s [%s]", i+1, p.ID, p.Status))
		if p.Version != "" {
			sb.WriteString(" v" + p.Version)
		}
		sb.WriteString("\n")

		if p.Status == plugin.StatusLoaded {
			sb.WriteString(fmt.Sprintf("   hooks: %d, commands: %d, gateway: %s\n",
				len(p.Hooks), len(p.Commands), joinOrNone(p.Gateway)))
		} else if p.Err != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", p.Err))
		}
	}

	return &plugin.CommandResult{Output: sb.String()}, nil
}

// handleReload triggers a plugin hot-reload through the daemon
func handleReload(ctx context.Context, args []string) (*plugin.CommandResult, error) {
	daemon, ok := ctx.Value("daemon").(Reloader)
	if !ok {
		return nil, fmt.Errorf("reload not available (daemon context not available)")
	}

	result := daemon.TriggerReload(ctx, "command")
	if !result.OK {
		return &plugin.CommandResult{
			Output:    fmt.Sprintf("Reload failed after %s: %s", result.Duration.Round(timeUnit), result.Err),
			Broadcast: true,
		}, nil
	}

	return &plugin.CommandResult{
		Output: fmt.Sprintf("Reloaded %d plugin(s), %d hook(s) in %s",
			result.PluginCount, result.HookCount, result.Duration.Round(timeUnit)),
		Broadcast: true,
	}, nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
