// Package registry implements the Channel Registry (C2): a
// name-indexed, concurrency-safe set of channels with creation-order
// listing and lifecycle bookkeeping. Grounded on the teacher's
// SessionManager map logic (pty-daemon/session.go), generalized to
// hold internal/channel.Channel values and wire new output straight
// into an internal/bus.Bus.
package registry

import (
	"sync"
	"syscall"

	"github.com/justin4957/nexus/internal/bus"
	"github.com/justin4957/nexus/internal/channel"
	"github.com/justin4957/nexus/internal/wire"
)

// Registry is a mapping from name to Channel, guarded against
// concurrent mutation (§4.2). The mutex is held only for O(1)
// map/slice operations; it is never held across a channel operation
// that might block.
type Registry struct {
	bus *bus.Bus

	mu       sync.Mutex
	channels map[string]*channel.Channel
	order    []string
}

// New creates an empty registry that publishes every channel's output
// to b.
func New(b *bus.Bus) *Registry {
	return &Registry{
		bus:      b,
		channels: make(map[string]*channel.Channel),
	}
}

// Create spawns a new channel and adds it to the registry under name.
// Fails with ErrAlreadyExists if the name is already registered —
// registered, not merely running, so a tombstoned (exited but not yet
// removed) channel also blocks reuse of its name (§3: "destroyed when
// explicitly killed", §4.2: remove is a distinct step from kill).
func (r *Registry) Create(opts channel.Options) (*channel.Channel, error) {
	r.mu.Lock()
	if _, exists := r.channels[opts.Name]; exists {
		r.mu.Unlock()
		return nil, wire.AlreadyExists("channel %q already exists", opts.Name)
	}
	r.mu.Unlock()

	name := opts.Name
	userOnExit := opts.OnExit
	opts.OnOutput = func(seq uint64, data []byte) {
		r.bus.Publish(name, seq, data)
	}
	opts.OnExit = func(code int) {
		if userOnExit != nil {
			userOnExit(code)
		}
	}

	c, err := channel.Spawn(opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.channels[name] = c
	r.order = append(r.order, name)
	r.mu.Unlock()

	return c, nil
}

// Get returns the named channel, if registered.
func (r *Registry) Get(name string) (*channel.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[name]
	return c, ok
}

// List returns a creation-time-ordered, value-copy snapshot of every
// registered channel's public state (§4.2: "a value copy ... does not
// affect it").
func (r *Registry) List() []channel.Info {
	r.mu.Lock()
	order := append([]string(nil), r.order...)
	channels := make(map[string]*channel.Channel, len(r.channels))
	for k, v := range r.channels {
		channels[k] = v
	}
	r.mu.Unlock()

	infos := make([]channel.Info, 0, len(order))
	for _, name := range order {
		if c, ok := channels[name]; ok {
			infos = append(infos, c.Snapshot())
		}
	}
	return infos
}

// Kill signals the named channel's process group. It does not remove
// the channel from the registry — per §4.2, remove is a distinct
// operation the caller issues only after observing exit.
func (r *Registry) Kill(name string, signal syscall.Signal) error {
	c, ok := r.Get(name)
	if !ok {
		return wire.NotFound("channel %q not found", name)
	}
	c.Kill(signal)
	return nil
}

// Remove deletes a channel from the registry and prunes it from every
// subscriber's explicit subscription set (§3 invariant iii). Per
// §4.2, remove must only be called once Kill has observed exit; Remove
// itself does not verify that — it is the caller's (the server's :kill
// command handler's) responsibility to wait on Wait() first.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	_, ok := r.channels[name]
	if ok {
		delete(r.channels, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return wire.NotFound("channel %q not found", name)
	}
	r.bus.PruneChannel(name)
	return nil
}
