// Package buffer implements the client-side ClientBuffer described in
// §3: a per-channel ring of lines with a hard cap, scroll offset, and
// unread-since-focus flag. It generalizes the teacher's byte-oriented
// RingBuffer (pty-daemon/ringbuf.go) to a line-oriented ring, since the
// client renders whole lines rather than raw scrollback bytes.
package buffer

import "sync"

// DefaultCapacity is the default number of lines retained per channel
// (§3: "hard cap N (default 10,000; configurable)").
const DefaultCapacity = 10_000

// Ring is a fixed-capacity, thread-safe ring of lines for one channel.
// Beyond capacity, the oldest lines are dropped. It also tracks scroll
// offset (distance from the bottom, in lines) and an unread-since-focus
// flag, matching §3's ClientBuffer attributes.
type Ring struct {
	mu           sync.Mutex
	lines        []string
	capacity     int
	scrollOffset int
	unread       bool
}

// New creates a Ring that retains at most capacity lines.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{capacity: capacity}
}

// Append adds a completed line, dropping the oldest line if the ring is
// at capacity.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, line)
	if len(r.lines) > r.capacity {
		// Drop the oldest line. A slice trim is O(n) but capacity is
		// bounded (default 10,000) and appends are not a hot path
		// relative to the PTY read/write cycle.
		r.lines = r.lines[len(r.lines)-r.capacity:]
	}
}

// Lines returns a snapshot of the retained lines, oldest first. The
// caller owns the returned slice.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Len returns the number of retained lines.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

// Clear removes all retained lines and resets scroll state (the
// `:clear` control command, §6).
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
	r.scrollOffset = 0
}

// SetScroll sets the scroll offset (distance from the bottom, in
// lines). Negative values clamp to 0.
func (r *Ring) SetScroll(offset int) {
	if offset < 0 {
		offset = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrollOffset = offset
}

// Scroll returns the current scroll offset.
func (r *Ring) Scroll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scrollOffset
}

// MarkUnread sets the unread-since-focus flag. Called when output
// arrives for a channel that isn't the active one (§4.6).
func (r *Ring) MarkUnread() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unread = true
}

// ClearUnread clears the unread-since-focus flag. Called when the
// channel becomes active.
func (r *Ring) ClearUnread() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unread = false
}

// Unread reports whether the unread-since-focus flag is set.
func (r *Ring) Unread() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread
}
