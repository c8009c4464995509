package scores

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SettlesQueuedRounds(t *testing.T) {
	l, st := newLedger(t, true, "a", "b")
	s := NewScheduler(l, 4, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.True(t, s.Schedule(Settlement{RoomID: "r", Round: 1, WinnerID: "a", PlayerIDs: []string{"a", "b"}}))
	require.True(t, s.Schedule(Settlement{RoomID: "r", Round: 1, WinnerID: "a", PlayerIDs: []string{"a", "b"}}))

	assert.Eventually(t, func() bool {
		key, ok := indexKey(t, st, "a")
		return ok && key == 10
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	key, _ := indexKey(t, st, "a")
	assert.Equal(t, 10, key, "duplicate settlement ignored")
}

func TestScheduler_DrainsOnStop(t *testing.T) {
	l, st := newLedger(t, true, "a", "b")
	s := NewScheduler(l, 4, zerolog.Nop())
	require.True(t, s.Schedule(Settlement{RoomID: "r", Round: 1, WinnerID: "b", PlayerIDs: []string{"a", "b"}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	key, ok := indexKey(t, st, "b")
	require.True(t, ok)
	assert.Equal(t, 10, key)
}

func TestScheduler_DropsWhenFull(t *testing.T) {
	l, _ := newLedger(t, true)
	s := NewScheduler(l, 1, zerolog.Nop())

	assert.True(t, s.Schedule(Settlement{RoomID: "r", Round: 1}))
	assert.False(t, s.Schedule(Settlement{RoomID: "r", Round: 2}))
}
