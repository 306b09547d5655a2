package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmdRequiresPortFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{})
	require.Error(t, cmd.Execute())
}

func TestRootCmdFlagDefaults(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"-p", "5000", "-P", "5001"})
	require.NoError(t, cmd.ParseFlags([]string{"-p", "5000", "-P", "5001"}))
	require.Equal(t, "127.0.0.1", remoteHost)
	require.Equal(t, "sechan.cfg", profilePath)
}

func TestPortNonce(t *testing.T) {
	require.Equal(t, []byte{0x13, 0x88}, portNonce(5000))
}
