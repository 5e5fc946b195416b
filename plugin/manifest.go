package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestName is the manifest filename expected in every plugin root
const ManifestName = "plugin.yaml"

var semverRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// Manifest describes a plugin: identity, configuration schema, runtime
// requirements, and the hooks, commands, and gateway methods it declares.
type Manifest struct {
	// ID is the unique plugin identifier
	ID string `yaml:"id"`

	// Version is the plugin version (semver)
	Version string `yaml:"version"`

	// Description is a short human-readable summary
	Description string `yaml:"description,omitempty"`

	// Author identifies the plugin author
	Author string `yaml:"author,omitempty"`

	// Disabled marks the plugin as not-to-be-loaded
	Disabled bool `yaml:"disabled,omitempty"`

	// Requires lists runtime requirements checked before loading
	Requires Requires `yaml:"requires,omitempty"`

	// ConfigSchema declares the settings the plugin accepts
	ConfigSchema map[string]SettingSpec `yaml:"config_schema,omitempty"`

	// Hooks declares the host events the plugin attaches to
	Hooks []HookDecl `yaml:"hooks,omitempty"`

	// Commands declares the chat commands the plugin provides
	Commands []CommandDecl `yaml:"commands,omitempty"`

	// Gateway declares the gateway methods the plugin serves
	Gateway []GatewayDecl `yaml:"gateway,omitempty"`
}

// Requires lists environment a plugin needs before it can load
type Requires struct {
	// Env lists environment variables that must be set
	Env []string `yaml:"env,omitempty"`
}

// SettingSpec describes one entry of a plugin's configuration schema
type SettingSpec struct {
	// Type is one of "string", "int", "bool", "float"
	Type string `yaml:"type"`

	// Required marks the setting as mandatory
	Required bool `yaml:"required,omitempty"`

	// Default is applied when the setting is absent
	Default interface{} `yaml:"default,omitempty"`
}

// HookDecl declares one hook attachment
type HookDecl struct {
	// Name is the event name to attach to
	Name string `yaml:"name"`

	// Priority orders hooks for the same event; lower runs first
	Priority int `yaml:"priority,omitempty"`
}

// CommandDecl declares one chat command
type CommandDecl struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Usage       string `yaml:"usage,omitempty"`
	Hidden      bool   `yaml:"hidden,omitempty"`

	// Response is the static reply used by the declarative importer
	Response string `yaml:"response,omitempty"`
}

// GatewayDecl declares one gateway method
type GatewayDecl struct {
	Method string `yaml:"method"`

	// Result is the static result used by the declarative importer
	Result interface{} `yaml:"result,omitempty"`
}

// ValidationError describes one manifest validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadManifest loads and parses a plugin manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &manifest, nil
}

// LoadManifestFromDir loads a plugin manifest from a directory
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestName))
}

// SaveManifest saves a plugin manifest to a file
func SaveManifest(manifest *Manifest, path string) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// ValidateManifest performs validation on a plugin manifest
func ValidateManifest(manifest *Manifest) []ValidationError {
	var errors []ValidationError

	if manifest.ID == "" {
		errors = append(errors, ValidationError{
			Field:   "id",
			Message: "plugin id is required",
		})
	} else if err := validateID(manifest.ID); err != nil {
		errors = append(errors, ValidationError{
			Field:   "id",
			Message: err.Error(),
		})
	}

	if manifest.Version != "" && !semverRegex.MatchString(manifest.Version) {
		errors = append(errors, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("invalid semver format: %s", manifest.Version),
		})
	}

	for name, spec := range manifest.ConfigSchema {
		switch spec.Type {
		case "string", "int", "bool", "float":
		default:
			errors = append(errors, ValidationError{
				Field:   "config_schema." + name,
				Message: fmt.Sprintf("unknown setting type: %s", spec.Type),
			})
		}
	}

	for i, h := range manifest.Hooks {
		if h.Name == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("hooks[%d]", i),
				Message: "hook name is required",
			})
		}
	}

	for i, c := range manifest.Commands {
		if c.Name == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("commands[%d]", i),
				Message: "command name is required",
			})
		}
	}

	for i, g := range manifest.Gateway {
		if g.Method == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("gateway[%d]", i),
				Message: "gateway method is required",
			})
		}
	}

	return errors
}

// validateID rejects ids that could escape the plugin root or confuse
// downstream path handling
func validateID(id string) error {
	if strings.Contains(id, "..") {
		return fmt.Errorf("id contains path traversal sequence")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("id contains path separator characters")
	}
	for _, r := range id {
		if r < 32 || r == 127 {
			return fmt.Errorf("id contains control character")
		}
	}
	return nil
}

// ValidateSettings checks configured settings against the manifest's
// config schema and returns the effective settings with defaults applied.
func (m *Manifest) ValidateSettings(settings map[string]interface{}) (map[string]interface{}, error) {
	effective := make(map[string]interface{}, len(m.ConfigSchema))

	for name, spec := range m.ConfigSchema {
		val, ok := settings[name]
		if !ok {
			if spec.Default != nil {
				effective[name] = spec.Default
				continue
			}
			if spec.Required {
				return nil, fmt.Errorf("missing required setting: %s", name)
			}
			continue
		}

		if !settingMatchesType(val, spec.Type) {
			return nil, fmt.Errorf("setting %s: expected %s, got %T", name, spec.Type, val)
		}
		effective[name] = val
	}

	for name := range settings {
		if _, declared := m.ConfigSchema[name]; !declared {
			return nil, fmt.Errorf("unknown setting: %s", name)
		}
	}

	return effective, nil
}

func settingMatchesType(val interface{}, typ string) bool {
	switch typ {
	case "string":
		_, ok := val.(string)
		return ok
	case "int":
		_, ok := val.(int)
		return ok
	case "bool":
		_, ok := val.(bool)
		return ok
	case "float":
		switch val.(type) {
		case float64, float32, int:
			return true
		}
		return false
	default:
		return false
	}
}
