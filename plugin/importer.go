package plugin

import (
	"context"
	"fmt"
	"path/filepath"
)

// DefaultImporter returns the declarative importer: it materialises a
// Module directly from the manifest's hook, command, and gateway
// declarations. Host embeddings that evaluate real plugin code install
// their own Importer through the load parameters; the subsystem treats
// either the same way.
func DefaultImporter() Importer {
	return ImportFunc(importDeclarative)
}

// importDeclarative builds a Module from the manifest at source.
func importDeclarative(ctx context.Context, source string) (*Module, error) {
	manifest, err := LoadManifest(source)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", filepath.Base(filepath.Dir(source)), err)
	}

	mod := &Module{
		Gateway: make(map[string]GatewayHandler, len(manifest.Gateway)),
	}

	for _, decl := range manifest.Hooks {
		mod.Hooks = append(mod.Hooks, HookRegistration{
			Name:     decl.Name,
			Priority: decl.Priority,
			Handler:  declarativeHookHandler(decl),
		})
	}

	for _, decl := range manifest.Commands {
		decl := decl
		mod.Commands = append(mod.Commands, &Command{
			Name:        decl.Name,
			Description: decl.Description,
			Usage:       decl.Usage,
			Hidden:      decl.Hidden,
			Handler:     declarativeCommandHandler(decl),
		})
	}

	for _, decl := range manifest.Gateway {
		decl := decl
		mod.Gateway[decl.Method] = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return decl.Result, nil
		}
	}

	return mod, nil
}

// declarativeHookHandler accepts the event without side effects; richer
// behavior belongs to host-installed importers.
func declarativeHookHandler(decl HookDecl) HookHandler {
	return func(ctx context.Context, ev Event) error {
		return nil
	}
}

// declarativeCommandHandler replies with the manifest's static response.
func declarativeCommandHandler(decl CommandDecl) CommandHandler {
	return func(ctx context.Context, args []string) (*CommandResult, error) {
		output := decl.Response
		if output == "" {
			output = "ok"
		}
		return &CommandResult{Output: output}, nil
	}
}
