// Package conversation holds the bounded per-room history that is sent to
// the completion API, together with the token counters used to keep that
// history inside the model's context window.
package conversation

import (
	"fmt"
	"sync"
)

// Role identifies who authored a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Turn is a single message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system turn carrying content.
func System(content string) Turn { return Turn{Role: RoleSystem, Content: content} }

// User returns a user turn carrying content.
func User(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// Assistant returns an assistant turn carrying content.
func Assistant(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// DefaultCapacity is the number of turns a Buffer keeps before evicting the
// oldest one.
const DefaultCapacity = 50

// Buffer is the ordered history of a single session. The system turn (the
// persona) is held separately and is never evicted; the remaining turns form
// a FIFO bounded by capacity.
//
// A Buffer is safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	system   Turn
	turns    []Turn
	capacity int
}

// NewBuffer returns an empty Buffer whose original context is system. A
// non-positive capacity selects DefaultCapacity.
func NewBuffer(system Turn, capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		system:   system,
		turns:    make([]Turn, 0, capacity),
		capacity: capacity,
	}
}

// Append adds t to the end of the history, evicting the oldest turn first
// when the buffer is full.
func (b *Buffer) Append(t Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.turns) >= b.capacity {
		copy(b.turns, b.turns[1:])
		b.turns = b.turns[:len(b.turns)-1]
	}
	b.turns = append(b.turns, t)
}

// History returns a copy of the turns, oldest first. The system turn is not
// included.
func (b *Buffer) History() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// OriginalContext returns the system turn the buffer was created with.
func (b *Buffer) OriginalContext() Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.system
}

// PurgeOldest removes up to n of the oldest turns and returns how many were
// removed.
func (b *Buffer) PurgeOldest(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		return 0
	}
	if n > len(b.turns) {
		n = len(b.turns)
	}
	remaining := make([]Turn, len(b.turns)-n, b.capacity)
	copy(remaining, b.turns[n:])
	b.turns = remaining
	return n
}

// Len returns the number of turns in the history.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// Capacity returns the maximum number of turns retained.
func (b *Buffer) Capacity() int { return b.capacity }

// Clone returns an independent deep copy of b. Mutating the clone never
// affects b.
func (b *Buffer) Clone() *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()

	turns := make([]Turn, len(b.turns), b.capacity)
	copy(turns, b.turns)
	return &Buffer{system: b.system, turns: turns, capacity: b.capacity}
}

// String implements fmt.Stringer for debug logging.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("Buffer{turns=%d capacity=%d}", len(b.turns), b.capacity)
}
