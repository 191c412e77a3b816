// -- cmd/root_test.go --
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommandWiring(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "stagehand", root.Use)
	assert.Equal(t, Version, root.Version)

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "smoke")

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestSmokeCommandFlags(t *testing.T) {
	smoke := newSmokeCmd()

	for _, name := range []string{"selector", "wait_timeout", "report", "headless", "attempts"} {
		assert.NotNilf(t, smoke.Flags().Lookup(name), "missing flag %q", name)
	}
	assert.Equal(t, "body", smoke.Flags().Lookup("selector").DefValue)
}
