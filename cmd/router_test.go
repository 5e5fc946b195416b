package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidecar/internal/config"
	"sidecar/plugin"
)

func TestRouterParsesSlashAndBareCommands(t *testing.T) {
	reg := GetRegistry()
	t.Cleanup(reg.Clear)

	var gotArgs []string
	require.NoError(t, reg.Add(&plugin.Command{
		Name:   "greet",
		Plugin: "p",
		Handler: func(ctx context.Context, args []string) (*plugin.CommandResult, error) {
			gotArgs = args
			return &plugin.CommandResult{Output: "hi"}, nil
		},
	}))

	router := NewRouter()

	result, err := router.Route(context.Background(), "/greet alice bob")
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Output)
	assert.Equal(t, []string{"alice", "bob"}, gotArgs)

	_, err = router.Route(context.Background(), "greet charlie")
	require.NoError(t, err)
	assert.Equal(t, []string{"charlie"}, gotArgs)
}

func TestRouterRejectsEmptyInput(t *testing.T) {
	router := NewRouter()

	_, err := router.Route(context.Background(), "   ")
	assert.Error(t, err)
}

func TestIsCommand(t *testing.T) {
	router := NewRouter()

	assert.True(t, router.IsCommand("/status"))
	assert.True(t, router.IsCommand("  /status"))
	assert.False(t, router.IsCommand("hello there"))
}

func TestGetHelpListsCommands(t *testing.T) {
	router := NewRouter()

	help := router.GetHelp(config.ModeDaemon)
	assert.Contains(t, help, "/help")
	assert.Contains(t, help, "/reload")
}

func TestGetCommandHelpShowsPluginOwner(t *testing.T) {
	reg := GetRegistry()
	t.Cleanup(reg.Clear)

	require.NoError(t, reg.Add(&plugin.Command{
		Name:        "greet",
		Description: "Say hello",
		Usage:       "<name>",
		Plugin:      "greeter",
		Handler: func(ctx context.Context, args []string) (*plugin.CommandResult, error) {
			return nil, nil
		},
	}))

	router := NewRouter()

	help, err := router.GetCommandHelp("greet")
	require.NoError(t, err)
	assert.Contains(t, help, "Say hello")
	assert.Contains(t, help, "Usage: /greet <name>")
	assert.Contains(t, help, "Provided by plugin: greeter")

	_, err = router.GetCommandHelp("nope")
	assert.Error(t, err)
}
