package cmd

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"sidecar/internal/config"
	"sidecar/internal/logging"
	"sidecar/plugin"
)

var (
	// globalRegistry is the global command registry
	globalRegistry = &CommandRegistry{
		commands: make(map[string]*plugin.Command),
		log:      logging.Subsystem("commands"),
	}
)

// init installs the registry as the sink that receives plugin commands
// from the loader and is cleared by the reload orchestrator.
func init() {
	plugin.SetCommandSink(globalRegistry)
}

// CommandRegistry manages command registration and execution. Compiled-in
// builtins register through Register; plugin commands arrive through the
// loader and are wiped on every reload.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]*plugin.Command
	log      logrus.FieldLogger
}

// Register adds a compiled-in command to the global registry.
// This is typically called from init() functions.
func Register(cmd *plugin.Command) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.commands[cmd.Name]; exists {
		panic(fmt.Sprintf("command %s already registered", cmd.Name))
	}

	globalRegistry.commands[cmd.Name] = cmd
}

// GetRegistry returns the global command registry
func GetRegistry() *CommandRegistry {
	return globalRegistry
}

// Add registers plugin-provided commands. Unlike Register it never
// panics: a name collision returns an error so the loader can record
// the owning plugin as failed instead of taking down the process.
func (cr *CommandRegistry) Add(cmds ...*plugin.Command) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	for _, cmd := range cmds {
		if existing, exists := cr.commands[cmd.Name]; exists {
			owner := existing.Plugin
			if owner == "" {
				owner = "builtin"
			}
			return fmt.Errorf("command %s already registered by %s", cmd.Name, owner)
		}
	}

	for _, cmd := range cmds {
		cr.commands[cmd.Name] = cmd
		cr.log.Debugf("Registered command /%s (plugin: %s)", cmd.Name, cmd.Plugin)
	}

	return nil
}

// Clear removes all plugin-registered commands. Compiled-in builtins
// survive. Idempotent.
func (cr *CommandRegistry) Clear() {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	for name, cmd := range cr.commands {
		if cmd.Plugin != "" {
			delete(cr.commands, name)
		}
	}
}

// Get retrieves a command by name
func (cr *CommandRegistry) Get(name string) (*plugin.Command, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	cmd, exists := cr.commands[name]
	return cmd, exists
}

// All returns all registered commands sorted by name
func (cr *CommandRegistry) All() []*plugin.Command {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	commands := make([]*plugin.Command, 0, len(cr.commands))
	for _, cmd := range cr.commands {
		commands = append(commands, cmd)
	}

	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Name < commands[j].Name
	})

	return commands
}

// ListCommands returns available commands for the given mode
func (cr *CommandRegistry) ListCommands(mode config.Mode) []*plugin.Command {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	var available []*plugin.Command
	for _, cmd := range cr.commands {
		if cmd.Hidden {
			continue
		}

		if len(cmd.Modes) == 0 || containsMode(cmd.Modes, mode) {
			available = append(available, cmd)
		}
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].Name < available[j].Name
	})

	return available
}

// Execute dispatches a command to its handler
func (cr *CommandRegistry) Execute(ctx context.Context, name string, args []string) (*plugin.CommandResult, error) {
	cr.mu.RLock()
	cmd, exists := cr.commands[name]
	cr.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown command: %s", name)
	}

	mode, ok := ctx.Value("mode").(config.Mode)
	if ok && len(cmd.Modes) > 0 && !containsMode(cmd.Modes, mode) {
		return nil, fmt.Errorf("command /%s not available in %s mode", name, mode)
	}

	return cmd.Handler(ctx, args)
}

// Count returns the number of registered commands
func (cr *CommandRegistry) Count() int {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return len(cr.commands)
}

// containsMode checks if a mode is in a slice
func containsMode(modes []config.Mode, mode config.Mode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}
