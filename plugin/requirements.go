package plugin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"sidecar/internal/config"
)

// Requirement represents a single requirement check
type Requirement struct {
	// Name is a short identifier for the requirement
	Name string

	// Description explains what the requirement checks
	Description string

	// CheckFunc performs the actual check
	CheckFunc func(ctx context.Context) error

	// Required indicates if this requirement must pass.
	// If false, failures are logged as warnings.
	Required bool
}

// RequirementChecker validates a set of requirements before a plugin
// is allowed to load
type RequirementChecker struct {
	requirements []Requirement
	pluginID     string
	log          logrus.FieldLogger
}

// NewRequirementChecker creates a requirement checker for a plugin
func NewRequirementChecker(pluginID string, log logrus.FieldLogger) *RequirementChecker {
	return &RequirementChecker{
		pluginID: pluginID,
		log:      log,
	}
}

// Add adds a requirement to check
func (rc *RequirementChecker) Add(req Requirement) {
	rc.requirements = append(rc.requirements, req)
}

// AddRequired adds a required requirement
func (rc *RequirementChecker) AddRequired(name, description string, checkFunc func(ctx context.Context) error) {
	rc.Add(Requirement{
		Name:        name,
		Description: description,
		CheckFunc:   checkFunc,
		Required:    true,
	})
}

// AddOptional adds an optional requirement
func (rc *RequirementChecker) AddOptional(name, description string, checkFunc func(ctx context.Context) error) {
	rc.Add(Requirement{
		Name:        name,
		Description: description,
		CheckFunc:   checkFunc,
		Required:    false,
	})
}

// Check runs all requirement checks.
// Returns an error if any required check fails.
func (rc *RequirementChecker) Check(ctx context.Context) error {
	if len(rc.requirements) == 0 {
		return nil
	}

	var errors []string
	for _, req := range rc.requirements {
		if err := req.CheckFunc(ctx); err != nil {
			msg := fmt.Sprintf("%s: %v", req.Name, err)
			if req.Required {
				errors = append(errors, msg)
			} else if rc.log != nil {
				rc.log.Warnf("Plugin %s optional check failed: %s", rc.pluginID, msg)
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("requirement check(s) failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// checkerForManifest builds a checker from a manifest's requires block
func checkerForManifest(m *Manifest, log logrus.FieldLogger) *RequirementChecker {
	checker := NewRequirementChecker(m.ID, log)
	for _, env := range m.Requires.Env {
		checker.AddRequired(
			"env:"+env,
			fmt.Sprintf("environment variable %s must be set", env),
			RequireEnvVar(env),
		)
	}
	return checker
}

// RequireMode creates a requirement that checks the runtime mode
// carried in the context
func RequireMode(mode config.Mode) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		current, ok := ctx.Value("mode").(config.Mode)
		if !ok {
			return fmt.Errorf("mode not available in context")
		}
		if current != mode {
			return fmt.Errorf("requires %s mode (current: %s)", mode, current)
		}
		return nil
	}
}

// RequireEnvVar creates a requirement that checks for an environment variable
func RequireEnvVar(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if os.Getenv(name) == "" {
			return fmt.Errorf("environment variable %s not set", name)
		}
		return nil
	}
}

// RequireAny creates a requirement that passes if any of the given checks pass
func RequireAny(checks ...func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errors []string
		for _, check := range checks {
			if err := check(ctx); err == nil {
				return nil
			} else {
				errors = append(errors, err.Error())
			}
		}
		return fmt.Errorf("all checks failed: %s", strings.Join(errors, "; "))
	}
}

// RequireAll creates a requirement that passes only if all checks pass
func RequireAll(checks ...func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
