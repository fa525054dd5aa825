// Package termio is the Terminal I/O Adapter (C7): it owns the
// transition into and out of raw mode so individual keystrokes reach
// the line editor one at a time, and guarantees cooked-mode
// restoration on every exit path. Keyboard delivery and resize
// detection themselves are handled by the bubbletea runtime in
// internal/client; this package covers what that runtime doesn't —
// the initial size probe for the handshake, and a belt-and-suspenders
// restore hook for signals that bypass the normal program exit.
// Grounded on the raw-mode enter/restore/signal idiom in
// bureau-foundation-bureau/cmd/bureau/observe/observe.go, adapted from
// a one-shot observe session to Nexus's line-editor input model (§4.6:
// raw mode only feeds the editor, it does not passthrough to a PTY).
package termio

import (
	"os"
	"os/signal"

	"golang.org/x/term"
)

// RawMode puts stdin into raw mode and restores the saved state on
// Restore. Restore is safe to call multiple times (each call reapplies
// the saved state) and from a signal handler.
type RawMode struct {
	fd       int
	oldState *term.State
}

// EnterRaw switches the controlling terminal to raw mode so keystrokes
// arrive unbuffered and unechoed, for the line editor to interpret
// itself (§4.6).
func EnterRaw() (*RawMode, error) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawMode{fd: fd, oldState: oldState}, nil
}

// Restore returns the terminal to its prior (cooked) mode. Called on
// every exit path — normal quit, fatal error, or signal — so a crash
// never leaves the user's shell stuck in raw mode.
func (r *RawMode) Restore() {
	if r == nil || r.oldState == nil {
		return
	}
	_ = term.Restore(r.fd, r.oldState)
}

// Size returns the current terminal dimensions in rows, cols.
func Size() (rows, cols uint16, err error) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0, 0, err
	}
	return uint16(h), uint16(w), nil
}

// RestoreOnSignal arranges for raw mode to be restored, an optional
// cleanup run, and the process to exit with code before any of sigs
// would otherwise kill it uncleanly — matching observe.go's "restore
// then exit" handler, generalized to a caller-chosen signal set and
// exit code so callers can distinguish e.g. Ctrl-\ (§6: exit 130) from
// a fatal externally-delivered SIGTERM (exit 1).
func RestoreOnSignal(raw *RawMode, code int, cleanup func(), sigs ...os.Signal) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)

	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		raw.Restore()
		if cleanup != nil {
			cleanup()
		}
		os.Exit(code)
	}()

	return func() { signal.Stop(sigCh) }
}
