package rooms

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typerace/internal/events"
	"typerace/internal/gamedata"
	"typerace/internal/identity"
	"typerace/internal/metrics"
	"typerace/internal/scores"
	"typerace/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stepRand walks through every value in turn so consecutive codes differ.
type stepRand struct {
	mu sync.Mutex
	n  int
}

func (s *stepRand) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.n % n
	s.n++
	return v
}

type recordingSettler struct {
	mu  sync.Mutex
	got []scores.Settlement
}

func (r *recordingSettler) Schedule(s scores.Settlement) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
	return true
}

func (r *recordingSettler) settlements() []scores.Settlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.got)
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []events.RoomChange
}

func (r *recordingPublisher) Publish(ev events.RoomChange) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return true
}

func (r *recordingPublisher) kinds(roomID string) []events.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []events.ChangeKind
	for _, ev := range r.got {
		if ev.RoomID == roomID {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

type harness struct {
	ctl     *Controller
	st      *store.Memory
	settler *recordingSettler
	pub     *recordingPublisher
	clock   *fakeClock
}

func newHarness(t *testing.T, capacity int, users ...string) *harness {
	t.Helper()
	h := &harness{
		st:      store.NewMemory(),
		settler: &recordingSettler{},
		pub:     &recordingPublisher{},
		clock:   &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	err := h.st.WithTx(context.Background(), func(tx store.Tx) error {
		for _, id := range users {
			if err := tx.UpsertUser(&gamedata.User{ID: id, Name: "name-" + id}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	h.ctl = NewController(h.st, h.settler, h.pub, Config{Capacity: capacity}, metrics.NewNop(), zerolog.Nop(),
		WithClock(h.clock), WithRand(&stepRand{}))
	return h
}

func as(userID string) context.Context {
	return identity.WithUser(context.Background(), userID)
}

func (h *harness) state(t *testing.T, roomID, userID string) *RoomState {
	t.Helper()
	s, err := h.ctl.GetRoomState(as(userID), roomID)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

// privateRoom creates a private room hosted by the first user and seats the rest.
func (h *harness) privateRoom(t *testing.T, host string, others ...string) *RoomRef {
	t.Helper()
	ref, err := h.ctl.CreateRoom(as(host), gamedata.RoomPrivate, "")
	require.NoError(t, err)
	for _, uid := range others {
		_, err := h.ctl.JoinRoom(as(uid), ref.RoomCode)
		require.NoError(t, err)
	}
	return ref
}

// playing starts a round with every listed user ready.
func (h *harness) playing(t *testing.T, host string, others ...string) (*RoomRef, string) {
	t.Helper()
	ref := h.privateRoom(t, host, others...)
	for _, uid := range append([]string{host}, others...) {
		require.NoError(t, h.ctl.ToggleReady(as(uid), ref.RoomID))
	}
	s := h.state(t, ref.RoomID, host)
	require.Equal(t, gamedata.StatePlaying, s.Room.State)
	return ref, s.Room.CurrentPhrase
}

func TestCreateRoom(t *testing.T) {
	h := newHarness(t, 5, "a")

	ref, err := h.ctl.CreateRoom(as("a"), gamedata.RoomPublic, "  Speedsters  ")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{4}$`), ref.RoomCode)

	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StateWaiting, s.Room.State)
	assert.Equal(t, "Speedsters", s.Room.Name)
	assert.Equal(t, "a", s.Room.HostID)
	assert.True(t, s.Room.Active)
	require.Len(t, s.Players, 1)
	assert.True(t, s.Players[0].IsHost)
	assert.Equal(t, "name-a", s.Players[0].Name)
	assert.True(t, s.IsHost)
	assert.True(t, s.IsCurrentUserInRoom)
}

func TestCreateRoom_PrivateDropsName(t *testing.T) {
	h := newHarness(t, 5, "a")
	ref, err := h.ctl.CreateRoom(as("a"), gamedata.RoomPrivate, "ignored")
	require.NoError(t, err)
	assert.Empty(t, h.state(t, ref.RoomID, "a").Room.Name)
}

func TestCreateRoom_Errors(t *testing.T) {
	h := newHarness(t, 5, "a")

	_, err := h.ctl.CreateRoom(context.Background(), gamedata.RoomPrivate, "")
	assert.ErrorIs(t, err, gamedata.ErrUnauthenticated)

	_, err = h.ctl.CreateRoom(as("ghost"), gamedata.RoomPrivate, "")
	assert.ErrorIs(t, err, gamedata.ErrUserNotFound)

	_, err = h.ctl.CreateRoom(as("a"), gamedata.RoomType("secret"), "")
	assert.ErrorIs(t, err, gamedata.ErrInvalidRoomType)
}

func TestCreateRoom_RetriesCodeCollision(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	// Four zeros for the first room, four zeros that collide, then ones.
	h.ctl.rand = &seqRand{vals: []int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1}}

	first, err := h.ctl.CreateRoom(as("a"), gamedata.RoomPrivate, "")
	require.NoError(t, err)
	second, err := h.ctl.CreateRoom(as("b"), gamedata.RoomPrivate, "")
	require.NoError(t, err)

	assert.Equal(t, "AAAA", first.RoomCode)
	assert.Equal(t, "BBBB", second.RoomCode)
}

func TestCreateRoom_GivesUpAfterAttempts(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	h.ctl.rand = &seqRand{}

	_, err := h.ctl.CreateRoom(as("a"), gamedata.RoomPrivate, "")
	require.NoError(t, err)
	_, err = h.ctl.CreateRoom(as("b"), gamedata.RoomPrivate, "")
	assert.ErrorContains(t, err, "unique room code")
}

func TestJoinRoom(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	ref := h.privateRoom(t, "a")

	got, err := h.ctl.JoinRoom(as("b"), " "+strings.ToLower(ref.RoomCode)+" ")
	require.NoError(t, err)
	assert.Equal(t, ref.RoomID, got.RoomID)

	s := h.state(t, ref.RoomID, "b")
	require.Len(t, s.Players, 2)
	assert.False(t, s.CurrentPlayer.IsHost)
	assert.False(t, s.IsHost)
	assert.Contains(t, h.pub.kinds(ref.RoomID), events.RoomUpdated)
}

func TestJoinRoom_Idempotent(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	ref := h.privateRoom(t, "a", "b")

	_, err := h.ctl.JoinRoom(as("b"), ref.RoomCode)
	require.NoError(t, err)
	_, err = h.ctl.JoinRoom(as("a"), ref.RoomCode)
	require.NoError(t, err)

	assert.Len(t, h.state(t, ref.RoomID, "a").Players, 2)
}

func TestJoinRoom_Full(t *testing.T) {
	h := newHarness(t, 2, "a", "b", "c")
	ref := h.privateRoom(t, "a", "b")

	_, err := h.ctl.JoinRoom(as("c"), ref.RoomCode)
	assert.ErrorIs(t, err, gamedata.ErrRoomFull)

	_, err = h.ctl.JoinRoom(as("b"), ref.RoomCode)
	assert.NoError(t, err, "existing players are not turned away by capacity")
}

func TestJoinRoom_Errors(t *testing.T) {
	h := newHarness(t, 5, "a", "b")

	_, err := h.ctl.JoinRoom(as("b"), "ZZZZ")
	assert.ErrorIs(t, err, gamedata.ErrRoomNotFound)

	pub, err := h.ctl.CreateRoom(as("a"), gamedata.RoomPublic, "")
	require.NoError(t, err)
	_, err = h.ctl.JoinRoom(as("b"), pub.RoomCode)
	assert.ErrorIs(t, err, gamedata.ErrRoomIsPublic)
	assert.Equal(t, gamedata.KindConflict, gamedata.KindOf(err))

	_, err = h.ctl.JoinRoom(context.Background(), pub.RoomCode)
	assert.ErrorIs(t, err, gamedata.ErrUnauthenticated)
}

func TestJoinRoom_PublicFailsEvenWhenFull(t *testing.T) {
	h := newHarness(t, 2, "a", "b", "c")
	pub, err := h.ctl.CreateRoom(as("a"), gamedata.RoomPublic, "")
	require.NoError(t, err)
	require.NoError(t, h.ctl.RequestToJoinRoom(as("b"), pub.RoomID))
	reqs := h.state(t, pub.RoomID, "a").JoinRequests
	require.Len(t, reqs, 1)
	_, err = h.ctl.HandleJoinRequest(as("a"), reqs[0].ID, ActionAccept)
	require.NoError(t, err)

	_, err = h.ctl.JoinRoom(as("c"), pub.RoomCode)
	assert.ErrorIs(t, err, gamedata.ErrRoomIsPublic)
}

func TestJoinRequestFlow(t *testing.T) {
	h := newHarness(t, 5, "host", "b")
	pub, err := h.ctl.CreateRoom(as("host"), gamedata.RoomPublic, "Open")
	require.NoError(t, err)

	require.NoError(t, h.ctl.RequestToJoinRoom(as("b"), pub.RoomID))
	assert.ErrorIs(t, h.ctl.RequestToJoinRoom(as("b"), pub.RoomID), gamedata.ErrDuplicateRequest)

	assert.Empty(t, h.state(t, pub.RoomID, "b").JoinRequests, "only the host sees requests")
	reqs := h.state(t, pub.RoomID, "host").JoinRequests
	require.Len(t, reqs, 1)
	assert.Equal(t, "name-b", reqs[0].RequesterName)

	mine, err := h.ctl.MyJoinRequest(as("b"), pub.RoomID)
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, gamedata.RequestPending, mine.Status)

	_, err = h.ctl.HandleJoinRequest(as("b"), reqs[0].ID, ActionAccept)
	assert.ErrorIs(t, err, gamedata.ErrNotHost)

	res, err := h.ctl.HandleJoinRequest(as("host"), reqs[0].ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, &HandleResult{Success: true, RoomID: pub.RoomID}, res)

	s := h.state(t, pub.RoomID, "b")
	assert.True(t, s.IsCurrentUserInRoom)
	assert.Equal(t, "name-b", s.CurrentPlayer.Name)

	_, err = h.ctl.HandleJoinRequest(as("host"), reqs[0].ID, ActionReject)
	assert.ErrorIs(t, err, gamedata.ErrRequestClosed)

	assert.ErrorIs(t, h.ctl.RequestToJoinRoom(as("b"), pub.RoomID), gamedata.ErrAlreadyPlayer)

	assert.ErrorIs(t, h.ctl.MarkRedirected(as("host"), reqs[0].ID), gamedata.ErrNotRequester)
	require.NoError(t, h.ctl.MarkRedirected(as("b"), reqs[0].ID))
	mine, err = h.ctl.MyJoinRequest(as("b"), pub.RoomID)
	require.NoError(t, err)
	assert.Equal(t, gamedata.RequestAccepted, mine.Status)
	assert.True(t, mine.Redirected)
}

func TestJoinRequest_Reject(t *testing.T) {
	h := newHarness(t, 5, "host", "b")
	pub, err := h.ctl.CreateRoom(as("host"), gamedata.RoomPublic, "")
	require.NoError(t, err)
	require.NoError(t, h.ctl.RequestToJoinRoom(as("b"), pub.RoomID))
	reqs := h.state(t, pub.RoomID, "host").JoinRequests

	_, err = h.ctl.HandleJoinRequest(as("host"), reqs[0].ID, ActionReject)
	require.NoError(t, err)

	s := h.state(t, pub.RoomID, "b")
	assert.False(t, s.IsCurrentUserInRoom)
	assert.Empty(t, h.state(t, pub.RoomID, "host").JoinRequests)

	require.NoError(t, h.ctl.RequestToJoinRoom(as("b"), pub.RoomID), "a rejected user may ask again")
}

func TestJoinRequest_AcceptRechecksCapacity(t *testing.T) {
	h := newHarness(t, 2, "host", "b", "c")
	pub, err := h.ctl.CreateRoom(as("host"), gamedata.RoomPublic, "")
	require.NoError(t, err)
	require.NoError(t, h.ctl.RequestToJoinRoom(as("b"), pub.RoomID))
	require.NoError(t, h.ctl.RequestToJoinRoom(as("c"), pub.RoomID))
	reqs := h.state(t, pub.RoomID, "host").JoinRequests
	require.Len(t, reqs, 2)

	_, err = h.ctl.HandleJoinRequest(as("host"), reqs[0].ID, ActionAccept)
	require.NoError(t, err)
	_, err = h.ctl.HandleJoinRequest(as("host"), reqs[1].ID, ActionAccept)
	assert.ErrorIs(t, err, gamedata.ErrRoomFull)

	assert.Len(t, h.state(t, pub.RoomID, "host").JoinRequests, 1, "failed accept leaves the request pending")
}

func TestJoinRequest_Errors(t *testing.T) {
	h := newHarness(t, 5, "host", "b")
	priv := h.privateRoom(t, "host")

	assert.ErrorIs(t, h.ctl.RequestToJoinRoom(as("b"), priv.RoomID), gamedata.ErrRoomNotPublic)
	assert.ErrorIs(t, h.ctl.RequestToJoinRoom(as("b"), "missing"), gamedata.ErrRoomNotFound)

	_, err := h.ctl.HandleJoinRequest(as("host"), "missing", ActionAccept)
	assert.ErrorIs(t, err, gamedata.ErrRequestNotFound)
	_, err = h.ctl.HandleJoinRequest(as("host"), "missing", Action("maybe"))
	assert.ErrorIs(t, err, gamedata.ErrInvalidAction)
}

func TestGetRoomState_Missing(t *testing.T) {
	h := newHarness(t, 5, "a")
	s, err := h.ctl.GetRoomState(as("a"), "missing")
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = h.ctl.GetRoomState(context.Background(), "missing")
	assert.ErrorIs(t, err, gamedata.ErrUnauthenticated)
}

func TestToggleReady_StartsWhenAllReady(t *testing.T) {
	h := newHarness(t, 5, "a", "b", "c")
	ref := h.privateRoom(t, "a", "b", "c")

	require.NoError(t, h.ctl.ToggleReady(as("a"), ref.RoomID))
	require.NoError(t, h.ctl.ToggleReady(as("b"), ref.RoomID))
	assert.Equal(t, gamedata.StateWaiting, h.state(t, ref.RoomID, "a").Room.State)

	h.clock.Advance(time.Second)
	require.NoError(t, h.ctl.ToggleReady(as("c"), ref.RoomID))

	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StatePlaying, s.Room.State)
	assert.Contains(t, Phrases, s.Room.CurrentPhrase)
	assert.Empty(t, s.Room.Winner)
	assert.Equal(t, 1, s.Room.Round)

	start := s.Players[0].StartTime
	require.NotNil(t, start)
	assert.Equal(t, h.clock.Now(), *start)
	for _, p := range s.Players {
		require.NotNil(t, p.StartTime)
		assert.Equal(t, *start, *p.StartTime, "every player shares the round epoch")
		assert.Empty(t, p.Progress)
		assert.Nil(t, p.CompletionTime)
		assert.Nil(t, p.WPM)
		assert.Nil(t, p.Accuracy)
	}
}

func TestToggleReady_UnreadyBlocksStart(t *testing.T) {
	h := newHarness(t, 5, "a", "b", "c")
	ref := h.privateRoom(t, "a", "b", "c")

	require.NoError(t, h.ctl.ToggleReady(as("a"), ref.RoomID))
	require.NoError(t, h.ctl.ToggleReady(as("b"), ref.RoomID))
	require.NoError(t, h.ctl.ToggleReady(as("a"), ref.RoomID))
	require.NoError(t, h.ctl.ToggleReady(as("c"), ref.RoomID))

	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StateWaiting, s.Room.State)
	assert.False(t, s.CurrentPlayer.IsReady)
}

func TestToggleReady_SoloNeverStarts(t *testing.T) {
	h := newHarness(t, 5, "a")
	ref := h.privateRoom(t, "a")

	require.NoError(t, h.ctl.ToggleReady(as("a"), ref.RoomID))
	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StateWaiting, s.Room.State)
	assert.True(t, s.CurrentPlayer.IsReady)
}

func TestToggleReady_NotAPlayer(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	ref := h.privateRoom(t, "a")
	assert.ErrorIs(t, h.ctl.ToggleReady(as("b"), ref.RoomID), gamedata.ErrPlayerNotFound)
}

func TestUpdateProgress_IgnoredUnlessPlaying(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	ref := h.privateRoom(t, "a", "b")

	require.NoError(t, h.ctl.UpdateProgress(as("a"), ref.RoomID, ProgressUpdate{Progress: "The"}))
	assert.Empty(t, h.state(t, ref.RoomID, "a").CurrentPlayer.Progress)

	require.NoError(t, h.ctl.UpdateProgress(as("a"), "missing", ProgressUpdate{Progress: "x"}))
}

func TestUpdateProgress_Partial(t *testing.T) {
	h := newHarness(t, 5, "a", "b", "c")
	ref, phrase := h.playing(t, "a", "b")

	assert.ErrorIs(t, h.ctl.UpdateProgress(as("c"), ref.RoomID, ProgressUpdate{Progress: "x"}), gamedata.ErrPlayerNotFound)

	h.clock.Advance(time.Minute)
	typed := phrase[:10]
	require.NoError(t, h.ctl.UpdateProgress(as("a"), ref.RoomID, ProgressUpdate{Progress: typed}))

	p := h.state(t, ref.RoomID, "a").CurrentPlayer
	assert.Equal(t, typed, p.Progress)
	require.NotNil(t, p.Accuracy)
	assert.Equal(t, 100, *p.Accuracy)
	require.NotNil(t, p.WPM)
	assert.Equal(t, 2, *p.WPM)
	assert.Nil(t, p.CompletionTime)

	wpm := 77
	require.NoError(t, h.ctl.UpdateProgress(as("a"), ref.RoomID, ProgressUpdate{Progress: "hxllo", Phrase: strPtr("hello"), WPM: &wpm}))
	p = h.state(t, ref.RoomID, "a").CurrentPlayer
	assert.Equal(t, 80, *p.Accuracy)
	assert.Equal(t, 77, *p.WPM)
}

func strPtr(s string) *string {
	return &s
}

func TestUpdateProgress_SameLengthTypoDoesNotWin(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	ref, phrase := h.playing(t, "a", "b")

	typo := []byte(phrase)
	typo[len(typo)-1] = '#'
	require.NoError(t, h.ctl.UpdateProgress(as("a"), ref.RoomID, ProgressUpdate{Progress: string(typo)}))

	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StatePlaying, s.Room.State)
	assert.Empty(t, s.Room.Winner)
	assert.Empty(t, h.settler.settlements())
}

func TestUpdateProgress_Win(t *testing.T) {
	h := newHarness(t, 5, "a", "b", "c")
	ref, phrase := h.playing(t, "a", "b", "c")

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.ctl.UpdateProgress(as("c"), ref.RoomID, ProgressUpdate{Progress: phrase[:5]}))
	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.ctl.UpdateProgress(as("b"), ref.RoomID, ProgressUpdate{Progress: phrase}))
	end := h.clock.Now()

	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StateFinished, s.Room.State)
	assert.Equal(t, "b", s.Room.Winner)
	for _, p := range s.Players {
		require.NotNil(t, p.CompletionTime, p.UserID)
		assert.Equal(t, end, *p.CompletionTime, "clocks stop when the winner finishes")
		assert.NotNil(t, p.WPM, p.UserID)
		assert.NotNil(t, p.Accuracy, p.UserID)
	}
	c := s.Players[2]
	assert.Equal(t, "c", c.UserID)
	assert.Equal(t, 1, *c.WPM, "five chars over one minute")
	a := s.Players[0]
	assert.Equal(t, 0, *a.WPM)
	assert.Equal(t, 100, *a.Accuracy)

	history, err := h.ctl.GetGameHistory(as("a"), ref.RoomID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "b", history[0].WinnerID)
	assert.Equal(t, 1, history[0].Round)
	assert.Len(t, history[0].Players, 3)

	settled := h.settler.settlements()
	require.Len(t, settled, 1)
	assert.Equal(t, scores.Settlement{RoomID: ref.RoomID, Round: 1, WinnerID: "b", PlayerIDs: []string{"a", "b", "c"}}, settled[0])

	require.NoError(t, h.ctl.UpdateProgress(as("a"), ref.RoomID, ProgressUpdate{Progress: phrase}))
	s = h.state(t, ref.RoomID, "a")
	assert.Equal(t, "b", s.Room.Winner, "a late exact match is ignored")
	assert.Len(t, h.settler.settlements(), 1)
}

func TestUpdateProgress_ConcurrentFinishersOneWinner(t *testing.T) {
	users := []string{"a", "b", "c", "d", "e"}
	h := newHarness(t, 5, users...)
	ref, phrase := h.playing(t, users[0], users[1:]...)

	var wg sync.WaitGroup
	for _, uid := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.ctl.UpdateProgress(as(uid), ref.RoomID, ProgressUpdate{Progress: phrase}))
		}()
	}
	wg.Wait()

	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StateFinished, s.Room.State)
	assert.Contains(t, users, s.Room.Winner)
	assert.Len(t, h.settler.settlements(), 1)

	history, err := h.ctl.GetGameHistory(as("a"), ref.RoomID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestToggleReady_ConcurrentLastReadyStartsOnce(t *testing.T) {
	users := []string{"a", "b", "c", "d", "e"}
	h := newHarness(t, 5, users...)
	ref := h.privateRoom(t, users[0], users[1:]...)

	var wg sync.WaitGroup
	for _, uid := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.ctl.ToggleReady(as(uid), ref.RoomID))
		}()
	}
	wg.Wait()

	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StatePlaying, s.Room.State)
	assert.Equal(t, 1, s.Room.Round)
}

func TestStartNewRound(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	ref, phrase := h.playing(t, "a", "b")
	require.NoError(t, h.ctl.UpdateProgress(as("a"), ref.RoomID, ProgressUpdate{Progress: phrase}))

	require.NoError(t, h.ctl.StartNewRound(as("b"), ref.RoomID))

	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StateWaiting, s.Room.State)
	assert.Empty(t, s.Room.CurrentPhrase)
	assert.Empty(t, s.Room.Winner)
	for _, p := range s.Players {
		assert.False(t, p.IsReady)
		assert.Empty(t, p.Progress)
		assert.Nil(t, p.StartTime)
		assert.Nil(t, p.CompletionTime)
		assert.Nil(t, p.WPM)
		assert.Nil(t, p.Accuracy)
	}

	assert.ErrorIs(t, h.ctl.StartNewRound(as("a"), "missing"), gamedata.ErrRoomNotFound)

	// The next round is numbered on and settles separately.
	require.NoError(t, h.ctl.ToggleReady(as("a"), ref.RoomID))
	require.NoError(t, h.ctl.ToggleReady(as("b"), ref.RoomID))
	assert.Equal(t, 2, h.state(t, ref.RoomID, "a").Room.Round)
}

func TestStartNewRound_OutsiderRejected(t *testing.T) {
	h := newHarness(t, 5, "a", "b", "mallory")
	ref, phrase := h.playing(t, "a", "b")
	require.NoError(t, h.ctl.UpdateProgress(as("b"), ref.RoomID, ProgressUpdate{Progress: phrase[:4]}))

	assert.ErrorIs(t, h.ctl.StartNewRound(as("mallory"), ref.RoomID), gamedata.ErrPlayerNotFound)

	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StatePlaying, s.Room.State)
	assert.Equal(t, phrase, s.Room.CurrentPhrase)
	for _, p := range s.Players {
		if p.UserID == "b" {
			assert.Equal(t, phrase[:4], p.Progress)
		}
	}
}

func TestStartNewRound_OnlyHostAbortsPlayingRound(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	ref, phrase := h.playing(t, "a", "b")

	assert.ErrorIs(t, h.ctl.StartNewRound(as("b"), ref.RoomID), gamedata.ErrNotHost)
	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, gamedata.StatePlaying, s.Room.State)
	assert.Equal(t, phrase, s.Room.CurrentPhrase)

	require.NoError(t, h.ctl.StartNewRound(as("a"), ref.RoomID))
	assert.Equal(t, gamedata.StateWaiting, h.state(t, ref.RoomID, "a").Room.State)
}

func TestLeaveRoom_PromotesEarliestJoiner(t *testing.T) {
	h := newHarness(t, 5, "a", "b", "c")
	ref := h.privateRoom(t, "a", "b", "c")

	require.NoError(t, h.ctl.LeaveRoom(as("a"), ref.RoomID))

	s := h.state(t, ref.RoomID, "b")
	assert.Equal(t, "b", s.Room.HostID)
	assert.True(t, s.IsHost)
	assert.True(t, s.CurrentPlayer.IsHost)
	require.Len(t, s.Players, 2)
	assert.False(t, s.Players[1].IsHost)
}

func TestLeaveRoom_NonHostKeepsHost(t *testing.T) {
	h := newHarness(t, 5, "a", "b", "c")
	ref := h.privateRoom(t, "a", "b", "c")

	require.NoError(t, h.ctl.LeaveRoom(as("b"), ref.RoomID))
	s := h.state(t, ref.RoomID, "a")
	assert.Equal(t, "a", s.Room.HostID)
	assert.Len(t, s.Players, 2)
}

func TestLeaveRoom_LastPlayerCascades(t *testing.T) {
	h := newHarness(t, 5, "host", "b", "c")
	pub, err := h.ctl.CreateRoom(as("host"), gamedata.RoomPublic, "")
	require.NoError(t, err)
	require.NoError(t, h.ctl.RequestToJoinRoom(as("b"), pub.RoomID))
	reqs := h.state(t, pub.RoomID, "host").JoinRequests
	_, err = h.ctl.HandleJoinRequest(as("host"), reqs[0].ID, ActionAccept)
	require.NoError(t, err)
	require.NoError(t, h.ctl.RequestToJoinRoom(as("c"), pub.RoomID))

	for _, uid := range []string{"host", "b"} {
		require.NoError(t, h.ctl.ToggleReady(as(uid), pub.RoomID))
	}
	phrase := h.state(t, pub.RoomID, "host").Room.CurrentPhrase
	require.NoError(t, h.ctl.UpdateProgress(as("b"), pub.RoomID, ProgressUpdate{Progress: phrase}))
	require.NoError(t, h.st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertChatMessage(&gamedata.ChatMessage{ID: "m1", RoomID: pub.RoomID, UserID: "b", Kind: gamedata.ChatEmoji, Content: "🎉"})
	}))

	require.NoError(t, h.ctl.LeaveRoom(as("host"), pub.RoomID))
	require.NoError(t, h.ctl.LeaveRoom(as("b"), pub.RoomID))

	s, err := h.ctl.GetRoomState(as("b"), pub.RoomID)
	require.NoError(t, err)
	assert.Nil(t, s)

	_ = h.st.WithTx(context.Background(), func(tx store.Tx) error {
		reqs, err := tx.ListJoinRequests(pub.RoomID, "")
		require.NoError(t, err)
		assert.Empty(t, reqs)
		history, err := tx.ListHistory(pub.RoomID)
		require.NoError(t, err)
		assert.Empty(t, history)
		chat, err := tx.ListChatMessages(pub.RoomID)
		require.NoError(t, err)
		assert.Empty(t, chat)
		return nil
	})
	assert.Contains(t, h.pub.kinds(pub.RoomID), events.RoomClosed)
}

func TestLeaveRoom_Twice(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	ref := h.privateRoom(t, "a", "b")

	require.NoError(t, h.ctl.LeaveRoom(as("b"), ref.RoomID))
	require.NoError(t, h.ctl.LeaveRoom(as("b"), ref.RoomID))
	assert.Len(t, h.state(t, ref.RoomID, "a").Players, 1)

	require.NoError(t, h.ctl.LeaveRoom(as("a"), ref.RoomID))
	require.NoError(t, h.ctl.LeaveRoom(as("a"), ref.RoomID))
}

func TestCompleteGame(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	ref, _ := h.playing(t, "a", "b")

	assert.ErrorIs(t, h.ctl.CompleteGame(as("b"), ref.RoomID), gamedata.ErrNotHost)
	assert.ErrorIs(t, h.ctl.CompleteGame(as("a"), "missing"), gamedata.ErrRoomNotFound)

	require.NoError(t, h.ctl.CompleteGame(as("a"), ref.RoomID))
	assert.Equal(t, gamedata.StateFinished, h.state(t, ref.RoomID, "a").Room.State)
	assert.Empty(t, h.settler.settlements(), "no winner, nothing to settle")

	require.NoError(t, h.ctl.CompleteGame(as("a"), ref.RoomID), "finished rooms are left alone")
}

func TestCompleteGame_SettlesRecordedWinner(t *testing.T) {
	h := newHarness(t, 5, "a", "b", "c")
	ref, _ := h.playing(t, "a", "b", "c")

	require.NoError(t, h.st.WithTx(context.Background(), func(tx store.Tx) error {
		room, err := tx.GetRoom(ref.RoomID)
		if err != nil {
			return err
		}
		room.Winner = "b"
		return tx.UpdateRoom(room)
	}))

	require.NoError(t, h.ctl.CompleteGame(as("a"), ref.RoomID))
	settled := h.settler.settlements()
	require.Len(t, settled, 1)
	assert.Equal(t, []string{"b", "a"}, settled[0].PlayerIDs)
	assert.Equal(t, 1, settled[0].Round)
}

func TestSetRoomActiveAndListing(t *testing.T) {
	h := newHarness(t, 4, "a", "b")
	first, err := h.ctl.CreateRoom(as("a"), gamedata.RoomPublic, "one")
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	second, err := h.ctl.CreateRoom(as("b"), gamedata.RoomPublic, "two")
	require.NoError(t, err)
	h.privateRoom(t, "a")

	list, err := h.ctl.ListPublicRooms(as("a"))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.RoomID, list[0].ID)
	assert.Equal(t, 1, list[0].PlayerCount)
	assert.Equal(t, 4, list[0].Capacity)

	assert.ErrorIs(t, h.ctl.SetRoomActive(as("b"), first.RoomID, false), gamedata.ErrNotHost)
	require.NoError(t, h.ctl.SetRoomActive(as("a"), first.RoomID, false))

	list, err = h.ctl.ListPublicRooms(as("a"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.RoomID, list[0].ID)
}

func TestCurrentRoom(t *testing.T) {
	h := newHarness(t, 5, "a", "b")
	id, err := h.ctl.CurrentRoom(as("a"))
	require.NoError(t, err)
	assert.Empty(t, id)

	ref := h.privateRoom(t, "a")
	id, err = h.ctl.CurrentRoom(as("a"))
	require.NoError(t, err)
	assert.Equal(t, ref.RoomID, id)

	_, err = h.ctl.CurrentRoom(context.Background())
	assert.ErrorIs(t, err, gamedata.ErrUnauthenticated)
}

func TestGetGameHistory_MissingRoom(t *testing.T) {
	h := newHarness(t, 5, "a")
	_, err := h.ctl.GetGameHistory(as("a"), "missing")
	assert.ErrorIs(t, err, gamedata.ErrRoomNotFound)
}

func TestNewController_ClampsCapacity(t *testing.T) {
	for _, tt := range []struct{ in, want int }{{0, 5}, {1, 2}, {3, 3}, {9, 5}} {
		c := NewController(store.NewMemory(), &recordingSettler{}, &recordingPublisher{}, Config{Capacity: tt.in}, metrics.NewNop(), zerolog.Nop())
		assert.Equal(t, tt.want, c.Capacity(), "capacity %d", tt.in)
	}
}
