package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatrelayCommand(t *testing.T) {
	cmd := NewChatrelayCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "chatrelay", cmd.Use)
	assert.True(t, cmd.HasSubCommands())
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))

	for _, name := range []string{"serve", "normalize", "validate", "pairing-qr", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestConfigFlagReachesSubcommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phone:\n    country_code: \"55\"\n"), 0o600))

	cmd := NewChatrelayCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "normalize", "12345678"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "55912345678\t55912345678@c.us\n", out.String())
}
