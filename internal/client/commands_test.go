package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInputLineControl(t *testing.T) {
	p := parseInputLine(":kill shell")
	require.Equal(t, inputControl, p.kind)
	require.Equal(t, "kill", p.command)
	require.Equal(t, []string{"shell"}, p.args)
}

func TestParseInputLineControlNoArgs(t *testing.T) {
	p := parseInputLine(":list")
	require.Equal(t, inputControl, p.kind)
	require.Equal(t, "list", p.command)
	require.Empty(t, p.args)
}

func TestParseInputLineBareControlColon(t *testing.T) {
	p := parseInputLine(":")
	require.Equal(t, inputControl, p.kind)
	require.Empty(t, p.command)
}

func TestParseInputLineSwitch(t *testing.T) {
	p := parseInputLine("@shell")
	require.Equal(t, inputSwitch, p.kind)
	require.Equal(t, "shell", p.channel)
}

func TestParseInputLineSwitchTrailingColon(t *testing.T) {
	p := parseInputLine("@shell:")
	require.Equal(t, inputSwitch, p.kind)
	require.Equal(t, "shell", p.channel)
}

func TestParseInputLineRoute(t *testing.T) {
	p := parseInputLine("@shell: ls -la")
	require.Equal(t, inputRoute, p.kind)
	require.Equal(t, "shell", p.channel)
	require.Equal(t, "ls -la", p.text)
}

func TestParseInputLinePlainGoesToStdin(t *testing.T) {
	p := parseInputLine("echo hi")
	require.Equal(t, inputStdin, p.kind)
	require.Equal(t, "echo hi", p.text)
}
