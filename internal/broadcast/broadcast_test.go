package broadcast

import (
	"testing"
	"time"

	"typerace/internal/events"
)

func TestNewBroadcaster(t *testing.T) {
	bus := events.NewBus(10)
	b := NewBroadcaster(bus)
	if b == nil {
		t.Fatal("NewBroadcaster() returned nil")
	}
	bus.Close()
}

func TestBroadcaster_SubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster(events.NewBus(10))

	ch := b.Subscribe("room-1")
	if ch == nil {
		t.Fatal("Subscribe() returned nil")
	}
	if n := b.Subscribers("room-1"); n != 1 {
		t.Errorf("subscribers = %d, want 1", n)
	}

	b.Unsubscribe("room-1", ch)
	if n := b.Subscribers("room-1"); n != 0 {
		t.Errorf("subscribers after unsubscribe = %d, want 0", n)
	}
	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}

	// A second unsubscribe must not close the channel twice.
	b.Unsubscribe("room-1", ch)
}

func TestBroadcaster_Broadcast(t *testing.T) {
	b := NewBroadcaster(events.NewBus(10))

	ch1 := b.Subscribe("room-1")
	ch2 := b.Subscribe("room-1")
	other := b.Subscribe("room-2")

	b.Broadcast("room-1", "room")

	for i, ch := range []chan Message{ch1, ch2} {
		select {
		case msg := <-ch:
			if msg.Event != "room" || msg.RoomID != "room-1" {
				t.Errorf("ch%d got %+v, want event=room room=room-1", i+1, msg)
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("ch%d timed out", i+1)
		}
	}

	select {
	case msg := <-other:
		t.Fatalf("other room received %+v", msg)
	default:
	}

	b.Unsubscribe("room-1", ch1)
	b.Unsubscribe("room-1", ch2)
	b.Unsubscribe("room-2", other)
}

func TestBroadcaster_SkipsFullChannels(t *testing.T) {
	b := NewBroadcaster(events.NewBus(10))

	ch := b.Subscribe("room-1")

	// Fill the channel buffer (capacity 10)
	for i := 0; i < 10; i++ {
		b.Broadcast("room-1", "fill")
	}

	// This should not block even though channel is full
	done := make(chan bool)
	go func() {
		b.Broadcast("room-1", "overflow")
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Broadcast blocked on full channel")
	}

	b.Unsubscribe("room-1", ch)
}

func TestBroadcaster_ForwardsBus(t *testing.T) {
	bus := events.NewBus(10)
	b := NewBroadcaster(bus)

	ch := b.Subscribe("room-1")
	bus.Publish(events.RoomChange{RoomID: "room-1", Kind: events.ChatPosted})

	select {
	case msg := <-ch:
		if msg.Event != "chat" {
			t.Errorf("got %+v, want event=chat", msg)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for forwarded change")
	}

	b.Unsubscribe("room-1", ch)
	bus.Close()
}
