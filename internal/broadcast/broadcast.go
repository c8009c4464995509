package broadcast

import (
	"sync"

	"typerace/internal/events"
)

type Message struct {
	Event  string
	RoomID string
}

// Broadcaster fans room changes out to per-room subscribers.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[string]map[chan Message]bool
}

// NewBroadcaster forwards every change on the bus until the bus is closed.
func NewBroadcaster(bus *events.Bus) *Broadcaster {
	b := &Broadcaster{
		clients: make(map[string]map[chan Message]bool),
	}
	go func() {
		for ev := range bus.RoomChanges {
			b.Broadcast(ev.RoomID, string(ev.Kind))
		}
	}()
	return b
}

func (b *Broadcaster) Subscribe(roomID string) chan Message {
	ch := make(chan Message, 10)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[roomID] == nil {
		b.clients[roomID] = make(map[chan Message]bool)
	}
	b.clients[roomID][ch] = true
	return ch
}

func (b *Broadcaster) Unsubscribe(roomID string, ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.clients[roomID]
	if !subs[ch] {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(b.clients, roomID)
	}
	close(ch)
}

// Subscribers is the number of open subscriptions for a room.
func (b *Broadcaster) Subscribers(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients[roomID])
}

func (b *Broadcaster) Broadcast(roomID, event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients[roomID] {
		select {
		case ch <- Message{Event: event, RoomID: roomID}:
		default:
			// skip clients with full data channels
		}
	}
}
