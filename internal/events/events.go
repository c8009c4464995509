package events

import "sync"

type ChangeKind string

const (
	RoomUpdated = ChangeKind("room")
	ChatPosted  = ChangeKind("chat")
	RoomClosed  = ChangeKind("closed")
)

// RoomChange tells subscribers that something readable through the room
// state changed. It carries no data: clients re-read what they need.
type RoomChange struct {
	RoomID string
	Kind   ChangeKind
}

type Bus struct {
	RoomChanges chan RoomChange

	mu     sync.RWMutex
	closed bool
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{
		RoomChanges: make(chan RoomChange, size),
	}
}

// Publish never blocks; a change is dropped when the buffer is full or the
// bus is closed.
func (b *Bus) Publish(ev RoomChange) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.RoomChanges <- ev:
		return true
	default:
		return false
	}
}

// Close ends the stream for the consumer. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.RoomChanges)
}
