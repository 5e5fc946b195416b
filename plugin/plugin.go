package plugin

import (
	"context"

	"sidecar/internal/config"
)

// Status describes the outcome of loading one plugin
type Status string

const (
	// StatusLoaded indicates the plugin loaded and its registrations are live
	StatusLoaded Status = "loaded"
	// StatusError indicates the plugin failed to load; Err carries the detail
	StatusError Status = "error"
	// StatusDisabled indicates the plugin was skipped (config or unmet requirements)
	StatusDisabled Status = "disabled"
)

// Plugin is one load outcome produced by a load pass. Immutable once
// placed into a Registry.
type Plugin struct {
	// ID is the unique plugin identifier within a Registry
	ID string

	// Version is the version declared in the manifest
	Version string

	// Source is the absolute manifest path, used as the module-cache key
	Source string

	// Status records how the load pass ended for this plugin
	Status Status

	// Hooks lists the plugin's resolved hook registrations
	Hooks []HookRegistration

	// Commands lists the plugin's resolved commands
	Commands []*Command

	// Gateway lists the gateway method names the plugin declared
	Gateway []string

	// Err holds the failure detail when Status is StatusError,
	// or the skip reason when Status is StatusDisabled
	Err string
}

// Event is a host event delivered to plugin hooks
type Event struct {
	// Name is the event identifier (e.g. "daemon.start", "message.received")
	Name string

	// Payload contains the event data
	Payload interface{}

	// Source identifies the originating component
	Source string
}

// HookHandler processes a single host event
type HookHandler func(ctx context.Context, ev Event) error

// HookRegistration binds a handler to a named event on behalf of a plugin
type HookRegistration struct {
	// Name is the event name the hook listens for
	Name string

	// Plugin is the owning plugin id
	Plugin string

	// Priority orders hooks for the same event; lower runs first
	Priority int

	// Handler is the function invoked on dispatch
	Handler HookHandler
}

// GatewayHandler serves one gateway method
type GatewayHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Command represents a chat command that can be executed
type Command struct {
	// Name is the command identifier (e.g. "status", "reload")
	Name string

	// Description is a short description of what the command does
	Description string

	// Usage shows how to use the command
	Usage string

	// Handler is the function that executes the command
	Handler CommandHandler

	// Modes lists the modes in which this command is available
	Modes []config.Mode

	// Hidden indicates if the command should be hidden from help
	Hidden bool

	// Plugin is the owning plugin id; empty for compiled-in commands
	Plugin string
}

// CommandHandler processes a command and returns a result
type CommandHandler func(ctx context.Context, args []string) (*CommandResult, error)

// CommandResult contains the result of command execution
type CommandResult struct {
	// Output is the text output to display
	Output string

	// Data contains structured data (for API responses)
	Data interface{}

	// Broadcast indicates if this result should be sent to all channels
	Broadcast bool
}

// Module is the evaluated form of one plugin's code: the concrete
// handlers backing its manifest declarations. How a module is produced
// is the Importer's business; the subsystem only caches and wires it.
type Module struct {
	// Hooks are the handlers for the plugin's declared hooks.
	// The loader fills in the owning plugin id.
	Hooks []HookRegistration

	// Commands are the plugin's command implementations
	Commands []*Command

	// Gateway maps declared gateway method names to handlers
	Gateway map[string]GatewayHandler
}

// Importer evaluates a plugin's code into a Module. The source argument
// is the plugin's absolute manifest path.
type Importer interface {
	Import(ctx context.Context, source string) (*Module, error)
}

// ImportFunc adapts a function to the Importer interface
type ImportFunc func(ctx context.Context, source string) (*Module, error)

// Import calls f
func (f ImportFunc) Import(ctx context.Context, source string) (*Module, error) {
	return f(ctx, source)
}

// CommandSink receives plugin-registered commands from the loader and is
// cleared by the reload orchestrator before each load pass. The command
// registry installs itself as the process-wide sink.
type CommandSink interface {
	// Add registers plugin commands; duplicates return an error
	Add(cmds ...*Command) error

	// Clear removes all plugin-registered commands. Idempotent.
	Clear()
}
