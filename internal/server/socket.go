package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// SocketPath resolves the per-user, per-session socket path (§6).
// NEXUS_SOCKET overrides everything when set. Otherwise: on Linux,
// $XDG_RUNTIME_DIR/nexus/<session>.sock, falling back to
// /tmp/nexus-$UID/<session>.sock when XDG_RUNTIME_DIR is unset; on
// macOS, $TMPDIR/nexus/<session>.sock.
func SocketPath(session string) string {
	if override := os.Getenv("NEXUS_SOCKET"); override != "" {
		return override
	}

	var dir string
	switch runtime.GOOS {
	case "darwin":
		tmp := os.Getenv("TMPDIR")
		if tmp == "" {
			tmp = os.TempDir()
		}
		dir = filepath.Join(tmp, "nexus")
	default:
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			dir = filepath.Join(xdg, "nexus")
		} else {
			dir = filepath.Join(os.TempDir(), fmt.Sprintf("nexus-%d", os.Getuid()))
		}
	}

	return filepath.Join(dir, session+".sock")
}

// LockPath returns the PID/lock file path sitting alongside the
// socket, used by the auto-spawn contract (§4.4) to detect a live
// server without racing on the socket file itself.
func LockPath(session string) string {
	sock := SocketPath(session)
	return sock[:len(sock)-len(filepath.Ext(sock))] + ".lock"
}

// ensureRuntimeDir creates path's parent directory (mode 0700) if it
// doesn't already exist. It must run before acquireSingleton, since
// the lock file sits alongside the socket in the same directory.
func ensureRuntimeDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("server: create socket dir %s: %w", dir, err)
	}
	return nil
}

// bindListener binds a Unix listener at path (mode 0600), assuming its
// parent directory already exists (see ensureRuntimeDir). If a stale
// socket file is present with no live server behind it, it probes the
// socket first: a successful dial means another server owns it (the
// caller should back off); a dial failure (ECONNREFUSED or similar)
// means the socket is stale and safe to unlink and rebind (§14 of
// SPEC_FULL.md, resolving §9's open question on stale-socket handling).
func bindListener(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if conn, dialErr := net.Dial("unix", path); dialErr == nil {
			conn.Close()
			return nil, errAlreadyListening
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("server: remove stale socket %s: %w", path, rmErr)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("server: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("server: chmod socket %s: %w", path, err)
	}
	return ln, nil
}

var errAlreadyListening = errors.New("server: another server is already listening on this socket")

// pidString is a small helper kept local to avoid pulling strconv into
// callers that only need it for log fields.
func pidString(pid int) string { return strconv.Itoa(pid) }
