package server

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// singleton guards a session's socket against two servers racing to
// bind it (§4.4 auto-spawn contract): "the server detects existing
// socket via a lock file (PID + liveness check) and exits cleanly if
// another server is already listening." flock gives liveness for
// free — the OS releases the lock when the holding process dies,
// so a stale PID left by a crashed server is never mistaken for a
// live one. Grounded on the lock-file idiom in
// julianknutsen-gastown/internal/util/flock.go, generalized from
// syscall.Flock to the gofrs/flock API the pack's go.mod already names.
type singleton struct {
	fl *flock.Flock
}

// acquireSingleton tries to take an exclusive, non-blocking lock on
// path. Returns errAlreadyListening if another process holds it.
func acquireSingleton(path string) (*singleton, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("server: lock %s: %w", path, err)
	}
	if !locked {
		return nil, errAlreadyListening
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("server: write pid file %s: %w", path, err)
	}

	return &singleton{fl: fl}, nil
}

func (s *singleton) release() {
	_ = s.fl.Unlock()
}
