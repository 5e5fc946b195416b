package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChannel is a minimal Channel for registry tests
type stubChannel struct {
	name string
}

func (s *stubChannel) Name() string                                    { return s.name }
func (s *stubChannel) CheckRequirements(ctx context.Context) error     { return nil }
func (s *stubChannel) Start(ctx context.Context, b MessageBroker) error { return nil }
func (s *stubChannel) Stop(ctx context.Context) error                  { return nil }

func TestRegisterAndGet(t *testing.T) {
	reg := GetRegistry()
	t.Cleanup(reg.Clear)
	reg.Clear()

	Register(&stubChannel{name: "stub"})

	c, ok := reg.Get("stub")
	require.True(t, ok)
	assert.Equal(t, "stub", c.Name())

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, []string{"stub"}, reg.Names())
	assert.Len(t, reg.All(), 1)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	reg := GetRegistry()
	t.Cleanup(reg.Clear)
	reg.Clear()

	Register(&stubChannel{name: "dup"})
	assert.Panics(t, func() {
		Register(&stubChannel{name: "dup"})
	})
}
