// Command nexus is the Nexus client/server entrypoint. Invoked bare it
// attaches to the default session, auto-spawning a background server
// if none is listening yet; invoked as "nexus run <session>" it runs
// the server itself in the foreground (used only by the auto-spawn
// re-exec, grounded on the teacher's cmdStart/main.go detach-and-retry
// idiom in pty-daemon/main.go, adapted from a start/stop/status daemon
// CLI to a transparent per-session auto-spawn).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/justin4957/nexus/internal/client"
	"github.com/justin4957/nexus/internal/server"
	"github.com/justin4957/nexus/internal/termio"
)

// Exit codes (§6).
const (
	exitNormal = 0
	exitFatal  = 1
	exitUsage  = 2
	exitQuit   = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: nexus [session]")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	args := pflag.Args()

	if len(args) > 0 && args[0] == "run" {
		session := "default"
		if len(args) > 1 {
			session = args[1]
		}
		return runServer(session)
	}

	session := "default"
	switch len(args) {
	case 0:
	case 1:
		session = args[0]
	default:
		fmt.Fprintln(os.Stderr, "nexus: too many arguments")
		pflag.Usage()
		return exitUsage
	}

	return runClient(session)
}

func runServer(session string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := server.New(session, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited with error", "error", err)
		return exitFatal
	}
	return exitNormal
}

func runClient(session string) int {
	socketPath := server.SocketPath(session)

	if err := ensureServer(socketPath, session); err != nil {
		fmt.Fprintf(os.Stderr, "nexus: could not start server: %v\n", err)
		return exitFatal
	}

	rows, cols, err := termio.Size()
	if err != nil {
		rows, cols = 24, 80
	}

	conn, err := client.Dial(socketPath, rows, cols)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nexus: connect: %v\n", err)
		return exitFatal
	}

	raw, err := termio.EnterRaw()
	if err != nil {
		_ = conn.Close()
		fmt.Fprintf(os.Stderr, "nexus: enter raw mode: %v\n", err)
		return exitFatal
	}
	defer raw.Restore()

	// A clean exit from bubbletea already restores cooked mode; these
	// cover signals bubbletea doesn't treat as quit keys: SIGQUIT
	// (Ctrl-\, its own exit code per §6) and an externally-delivered
	// SIGTERM (treated as a fatal loss of session, not a normal quit).
	stopQuit := termio.RestoreOnSignal(raw, exitQuit, func() { _ = conn.Close() }, syscall.SIGQUIT)
	defer stopQuit()
	stopTerm := termio.RestoreOnSignal(raw, exitFatal, func() { _ = conn.Close() }, syscall.SIGTERM)
	defer stopTerm()

	model := client.NewModel(conn, socketPath)
	program := tea.NewProgram(model)
	finalModel, err := program.Run()
	if err != nil {
		_ = conn.Close()
		fmt.Fprintf(os.Stderr, "nexus: %v\n", err)
		return exitFatal
	}

	exitCode := exitNormal
	if m, ok := finalModel.(client.Model); ok && m.FatalErr() != nil {
		fmt.Fprintf(os.Stderr, "nexus: %v\n", m.FatalErr())
		exitCode = exitFatal
	}

	_ = conn.Detach()
	return exitCode
}

// ensureServer dials socketPath; if nothing answers, it re-execs this
// binary as "nexus run <session>", detached from the terminal, and
// waits (up to 5s) for the socket to appear (§4.4 auto-spawn contract).
func ensureServer(socketPath, session string) error {
	if probe(socketPath) {
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	cmd := exec.Command(exePath, "run", session)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn server: %w", err)
	}
	_ = cmd.Process.Release()

	for i := 0; i < 50; i++ {
		if probe(socketPath) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.New("server did not come up within 5s")
}

// probe checks for a live server without performing the full Hello
// handshake, so checking doesn't itself create a phantom session.
func probe(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
