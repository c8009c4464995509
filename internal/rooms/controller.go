// Package rooms runs the room lifecycle: creation, joining, ready-up, the
// race itself and cleanup when players leave.
//
// Every operation is one store unit of work. Notifications and settlements are
// only released after that unit of work commits.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"typerace/internal/events"
	"typerace/internal/gamedata"
	"typerace/internal/identity"
	"typerace/internal/metrics"
	"typerace/internal/players"
	"typerace/internal/scores"
	"typerace/internal/store"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Publisher interface {
	Publish(ev events.RoomChange) bool
}

type Settler interface {
	Schedule(s scores.Settlement) bool
}

type Config struct {
	// Capacity is the most players a room holds, between 2 and 5.
	Capacity int
}

type Controller struct {
	store    store.Store
	settler  Settler
	events   Publisher
	clock    Clock
	rand     Rand
	capacity int
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

type Option func(*Controller)

func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithRand(r Rand) Option {
	return func(ctl *Controller) { ctl.rand = r }
}

func NewController(st store.Store, settler Settler, pub Publisher, cfg Config, m *metrics.Metrics, logger zerolog.Logger, opts ...Option) *Controller {
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = gamedata.MaxCapacity
	}
	capacity = min(max(capacity, gamedata.MinPlayers), gamedata.MaxCapacity)

	c := &Controller{
		store:    st,
		settler:  settler,
		events:   pub,
		clock:    systemClock{},
		rand:     cryptoRand{},
		capacity: capacity,
		metrics:  m,
		logger:   logger.With().Str("component", "rooms").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capacity is the effective room size after clamping.
func (c *Controller) Capacity() int {
	return c.capacity
}

type RoomRef struct {
	RoomID   string `json:"roomId"`
	RoomCode string `json:"roomCode"`
}

type Action string

const (
	ActionAccept = Action("accept")
	ActionReject = Action("reject")
)

type HandleResult struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId"`
}

type RoomState struct {
	Room                *gamedata.Room          `json:"room"`
	Players             []*gamedata.Player      `json:"players"`
	CurrentPlayer       *gamedata.Player        `json:"currentPlayer,omitempty"`
	JoinRequests        []*gamedata.JoinRequest `json:"joinRequests"`
	IsCurrentUserInRoom bool                    `json:"isCurrentUserInRoom"`
	IsHost              bool                    `json:"isHost"`
}

type RoomSummary struct {
	*gamedata.Room
	PlayerCount int `json:"playerCount"`
	Capacity    int `json:"capacity"`
}

// ProgressUpdate is a client's report of what it has typed. Phrase is the
// text the client typed against and WPM its own measurement; both are
// optional.
type ProgressUpdate struct {
	Progress string  `json:"progress"`
	Phrase   *string `json:"phrase,omitempty"`
	WPM      *int    `json:"wpm,omitempty"`
}

// effects collects what a unit of work wants to happen once it commits.
type effects struct {
	changes     []events.RoomChange
	settlements []scores.Settlement
	counters    []prometheus.Counter
}

func (fx *effects) changed(roomID string, kind events.ChangeKind) {
	fx.changes = append(fx.changes, events.RoomChange{RoomID: roomID, Kind: kind})
}

func (fx *effects) count(counter prometheus.Counter) {
	fx.counters = append(fx.counters, counter)
}

func (c *Controller) update(ctx context.Context, fn func(tx store.Tx, fx *effects) error) error {
	var fx *effects
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		fx = &effects{}
		return fn(tx, fx)
	})
	if err != nil {
		return err
	}
	for _, counter := range fx.counters {
		counter.Inc()
	}
	for _, s := range fx.settlements {
		c.settler.Schedule(s)
	}
	for _, ev := range fx.changes {
		if !c.events.Publish(ev) {
			c.metrics.EventsDropped.Inc()
		}
	}
	return nil
}

func caller(ctx context.Context) (string, error) {
	id, ok := identity.UserID(ctx)
	if !ok {
		return "", gamedata.ErrUnauthenticated
	}
	return id, nil
}

func loadUser(tx store.Tx, id string) (*gamedata.User, error) {
	u, err := tx.GetUser(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, gamedata.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return u, nil
}

func loadRoom(tx store.Tx, id string) (*gamedata.Room, error) {
	r, err := tx.GetRoom(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, gamedata.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading room: %w", err)
	}
	return r, nil
}

func loadPlayer(tx store.Tx, roomID, userID string) (*gamedata.Player, error) {
	p, err := tx.GetPlayer(roomID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, gamedata.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading player: %w", err)
	}
	return p, nil
}

func loadRequest(tx store.Tx, id string) (*gamedata.JoinRequest, error) {
	jr, err := tx.GetJoinRequest(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, gamedata.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading join request: %w", err)
	}
	return jr, nil
}

// isPlayer reports whether the user already has a seat in the room.
func isPlayer(tx store.Tx, roomID, userID string) (bool, error) {
	_, err := tx.GetPlayer(roomID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading player: %w", err)
	}
	return true, nil
}

func (c *Controller) newPlayer(roomID string, u *gamedata.User, name string, host bool) *gamedata.Player {
	return &gamedata.Player{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		UserID:   u.ID,
		Name:     name,
		IsHost:   host,
		JoinedAt: c.clock.Now(),
	}
}

func (c *Controller) seat(tx store.Tx, roomID string) error {
	roster, err := tx.ListPlayers(roomID)
	if err != nil {
		return fmt.Errorf("listing players: %w", err)
	}
	if len(roster) >= c.capacity {
		return gamedata.ErrRoomFull
	}
	return nil
}

// uniqueCode draws codes until one is not held by an existing room.
func (c *Controller) uniqueCode(tx store.Tx) (string, error) {
	for range codeAttempts {
		code := GenerateCode(c.rand)
		_, err := tx.GetRoomByCode(code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking room code: %w", err)
		}
	}
	return "", fmt.Errorf("failed to generate unique room code after %d attempts", codeAttempts)
}

func (c *Controller) CreateRoom(ctx context.Context, roomType gamedata.RoomType, name string) (*RoomRef, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if !roomType.Valid() {
		return nil, gamedata.ErrInvalidRoomType
	}
	if roomType != gamedata.RoomPublic {
		name = ""
	}

	var ref *RoomRef
	err = c.update(ctx, func(tx store.Tx, fx *effects) error {
		u, err := loadUser(tx, uid)
		if err != nil {
			return err
		}
		code, err := c.uniqueCode(tx)
		if err != nil {
			return err
		}

		room := &gamedata.Room{
			ID:        uuid.NewString(),
			Code:      code,
			Type:      roomType,
			Name:      strings.TrimSpace(name),
			HostID:    uid,
			State:     gamedata.StateWaiting,
			Active:    true,
			CreatedAt: c.clock.Now(),
		}
		if err := tx.InsertRoom(room); err != nil {
			return fmt.Errorf("inserting room: %w", err)
		}
		if err := tx.InsertPlayer(c.newPlayer(room.ID, u, u.DisplayName(), true)); err != nil {
			return fmt.Errorf("inserting host: %w", err)
		}

		fx.count(c.metrics.RoomsCreated)
		ref = &RoomRef{RoomID: room.ID, RoomCode: room.Code}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("room_id", ref.RoomID).Str("code", ref.RoomCode).Str("host_id", uid).Msg("room created")
	return ref, nil
}

// JoinRoom seats the caller in a private room by code. Public rooms are only
// entered through an approved join request.
func (c *Controller) JoinRoom(ctx context.Context, code string) (*RoomRef, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))

	var ref *RoomRef
	err = c.update(ctx, func(tx store.Tx, fx *effects) error {
		room, err := tx.GetRoomByCode(code)
		if errors.Is(err, store.ErrNotFound) {
			return gamedata.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("loading room: %w", err)
		}
		if room.Type == gamedata.RoomPublic {
			return gamedata.ErrRoomIsPublic
		}
		ref = &RoomRef{RoomID: room.ID, RoomCode: room.Code}

		seated, err := isPlayer(tx, room.ID, uid)
		if err != nil || seated {
			return err
		}
		if err := c.seat(tx, room.ID); err != nil {
			return err
		}
		u, err := loadUser(tx, uid)
		if err != nil {
			return err
		}
		if err := tx.InsertPlayer(c.newPlayer(room.ID, u, u.DisplayName(), false)); err != nil {
			return fmt.Errorf("inserting player: %w", err)
		}
		fx.changed(room.ID, events.RoomUpdated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (c *Controller) RequestToJoinRoom(ctx context.Context, roomID string) error {
	uid, err := caller(ctx)
	if err != nil {
		return err
	}

	return c.update(ctx, func(tx store.Tx, fx *effects) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.Type != gamedata.RoomPublic {
			return gamedata.ErrRoomNotPublic
		}
		_, err = tx.PendingJoinRequest(roomID, uid)
		if err == nil {
			return gamedata.ErrDuplicateRequest
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("loading pending request: %w", err)
		}
		seated, err := isPlayer(tx, roomID, uid)
		if err != nil {
			return err
		}
		if seated {
			return gamedata.ErrAlreadyPlayer
		}
		u, err := loadUser(tx, uid)
		if err != nil {
			return err
		}

		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("generating request id: %w", err)
		}
		jr := &gamedata.JoinRequest{
			ID:            id,
			RoomID:        roomID,
			RequesterID:   uid,
			RequesterName: u.DisplayName(),
			Status:        gamedata.RequestPending,
			CreatedAt:     c.clock.Now(),
		}
		if err := tx.InsertJoinRequest(jr); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return gamedata.ErrDuplicateRequest
			}
			return fmt.Errorf("inserting join request: %w", err)
		}
		fx.changed(roomID, events.RoomUpdated)
		return nil
	})
}

// HandleJoinRequest lets the host accept or reject a pending request. Handled
// requests never reopen.
func (c *Controller) HandleJoinRequest(ctx context.Context, requestID string, action Action) (*HandleResult, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if action != ActionAccept && action != ActionReject {
		return nil, gamedata.ErrInvalidAction
	}

	var res *HandleResult
	err = c.update(ctx, func(tx store.Tx, fx *effects) error {
		jr, err := loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		room, err := loadRoom(tx, jr.RoomID)
		if err != nil {
			return err
		}
		if room.HostID != uid {
			return gamedata.ErrNotHost
		}
		if jr.Status != gamedata.RequestPending {
			return gamedata.ErrRequestClosed
		}

		jr.Status = gamedata.RequestRejected
		if action == ActionAccept {
			jr.Status = gamedata.RequestAccepted
			seated, err := isPlayer(tx, room.ID, jr.RequesterID)
			if err != nil {
				return err
			}
			if !seated {
				if err := c.seat(tx, room.ID); err != nil {
					return err
				}
				u := &gamedata.User{ID: jr.RequesterID}
				if err := tx.InsertPlayer(c.newPlayer(room.ID, u, jr.RequesterName, false)); err != nil {
					return fmt.Errorf("inserting player: %w", err)
				}
			}
		}
		if err := tx.UpdateJoinRequest(jr); err != nil {
			return fmt.Errorf("updating join request: %w", err)
		}

		fx.changed(room.ID, events.RoomUpdated)
		res = &HandleResult{Success: true, RoomID: room.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("room_id", res.RoomID).Str("request_id", requestID).Str("action", string(action)).Msg("join request handled")
	return res, nil
}

// GetRoomState returns nil when the room does not exist. Pending join
// requests are only shown to the host.
func (c *Controller) GetRoomState(ctx context.Context, roomID string) (*RoomState, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	var state *RoomState
	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		room, err := tx.GetRoom(roomID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading room: %w", err)
		}
		roster, err := tx.ListPlayers(roomID)
		if err != nil {
			return fmt.Errorf("listing players: %w", err)
		}

		state = &RoomState{
			Room:         room,
			Players:      roster,
			JoinRequests: []*gamedata.JoinRequest{},
			IsHost:       room.HostID == uid,
		}
		state.CurrentPlayer = players.Find(roster, uid)
		state.IsCurrentUserInRoom = state.CurrentPlayer != nil
		if state.IsHost {
			pending, err := tx.ListJoinRequests(roomID, gamedata.RequestPending)
			if err != nil {
				return fmt.Errorf("listing join requests: %w", err)
			}
			if pending != nil {
				state.JoinRequests = pending
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// ToggleReady flips the caller's readiness. When that leaves a waiting room
// with enough players who are all ready, the round starts in the same unit of
// work.
func (c *Controller) ToggleReady(ctx context.Context, roomID string) error {
	uid, err := caller(ctx)
	if err != nil {
		return err
	}

	return c.update(ctx, func(tx store.Tx, fx *effects) error {
		p, err := loadPlayer(tx, roomID, uid)
		if err != nil {
			return err
		}
		p.IsReady = !p.IsReady
		if err := tx.UpdatePlayer(p); err != nil {
			return fmt.Errorf("updating player: %w", err)
		}
		fx.changed(roomID, events.RoomUpdated)

		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.State != gamedata.StateWaiting {
			return nil
		}
		roster, err := tx.ListPlayers(roomID)
		if err != nil {
			return fmt.Errorf("listing players: %w", err)
		}
		if !players.AllReady(roster, gamedata.MinPlayers) {
			return nil
		}
		return c.startRound(tx, fx, room, roster)
	})
}

func (c *Controller) startRound(tx store.Tx, fx *effects, room *gamedata.Room, roster []*gamedata.Player) error {
	now := c.clock.Now()
	room.State = gamedata.StatePlaying
	room.CurrentPhrase = RandomPhrase(c.rand)
	room.Winner = ""
	room.Round++
	if err := tx.UpdateRoom(room); err != nil {
		return fmt.Errorf("updating room: %w", err)
	}
	for _, p := range roster {
		players.StartRound(p, now)
		if err := tx.UpdatePlayer(p); err != nil {
			return fmt.Errorf("resetting player: %w", err)
		}
	}

	fx.count(c.metrics.RoundsStarted)
	c.logger.Info().Str("room_id", room.ID).Int("round", room.Round).Int("players", len(roster)).Msg("round started")
	return nil
}

// UpdateProgress records what the caller has typed. Reports for a room that is
// gone or not playing are ignored. An exact match of the round phrase wins the
// round for the caller and freezes everyone else's result.
func (c *Controller) UpdateProgress(ctx context.Context, roomID string, u ProgressUpdate) error {
	uid, err := caller(ctx)
	if err != nil {
		return err
	}

	return c.update(ctx, func(tx store.Tx, fx *effects) error {
		room, err := tx.GetRoom(roomID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading room: %w", err)
		}
		if room.State != gamedata.StatePlaying {
			return nil
		}
		p, err := loadPlayer(tx, roomID, uid)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		target := room.CurrentPhrase
		if u.Phrase != nil && *u.Phrase != "" {
			target = *u.Phrase
		}
		p.Progress = u.Progress
		p.Accuracy = gamedata.IntPtr(players.Accuracy(u.Progress, target))
		if u.WPM != nil {
			p.WPM = gamedata.IntPtr(*u.WPM)
		} else {
			p.WPM = gamedata.IntPtr(players.WPM(u.Progress, p.StartTime, now))
		}

		won := room.CurrentPhrase != "" && u.Progress == room.CurrentPhrase
		if won {
			p.CompletionTime = gamedata.TimePtr(now)
		}
		if err := tx.UpdatePlayer(p); err != nil {
			return fmt.Errorf("updating player: %w", err)
		}
		fx.count(c.metrics.ProgressUpdates)
		fx.changed(roomID, events.RoomUpdated)

		if !won {
			return nil
		}
		return c.finishRound(tx, fx, room, uid, now)
	})
}

func (c *Controller) finishRound(tx store.Tx, fx *effects, room *gamedata.Room, winnerID string, end time.Time) error {
	roster, err := tx.ListPlayers(room.ID)
	if err != nil {
		return fmt.Errorf("listing players: %w", err)
	}

	snapshots := make([]gamedata.PlayerSnapshot, 0, len(roster))
	ids := make([]string, 0, len(roster))
	for _, p := range roster {
		if !p.Finished() {
			players.Freeze(p, room.CurrentPhrase, end)
			if err := tx.UpdatePlayer(p); err != nil {
				return fmt.Errorf("freezing player: %w", err)
			}
		}
		snapshots = append(snapshots, players.Snapshot(p))
		ids = append(ids, p.UserID)
	}

	room.State = gamedata.StateFinished
	room.Winner = winnerID
	if err := tx.UpdateRoom(room); err != nil {
		return fmt.Errorf("updating room: %w", err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("generating history id: %w", err)
	}
	h := &gamedata.GameHistory{
		ID:       id,
		RoomID:   room.ID,
		Round:    room.Round,
		EndedAt:  end,
		WinnerID: winnerID,
		Players:  snapshots,
	}
	if err := tx.InsertHistory(h); err != nil {
		return fmt.Errorf("inserting history: %w", err)
	}

	fx.settlements = append(fx.settlements, scores.Settlement{
		RoomID:    room.ID,
		Round:     room.Round,
		WinnerID:  winnerID,
		PlayerIDs: ids,
	})
	fx.count(c.metrics.RoundsFinished)
	c.logger.Info().Str("room_id", room.ID).Int("round", room.Round).Str("winner_id", winnerID).Msg("round finished")
	return nil
}

// StartNewRound sends the room back to the lobby. Everyone has to ready up
// again. Only players may do it, and only the host may abort a round that is
// still being played.
func (c *Controller) StartNewRound(ctx context.Context, roomID string) error {
	uid, err := caller(ctx)
	if err != nil {
		return err
	}

	return c.update(ctx, func(tx store.Tx, fx *effects) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if _, err := loadPlayer(tx, roomID, uid); err != nil {
			return err
		}
		if room.State == gamedata.StatePlaying && room.HostID != uid {
			return gamedata.ErrNotHost
		}
		room.State = gamedata.StateWaiting
		room.CurrentPhrase = ""
		room.Winner = ""
		if err := tx.UpdateRoom(room); err != nil {
			return fmt.Errorf("updating room: %w", err)
		}

		roster, err := tx.ListPlayers(roomID)
		if err != nil {
			return fmt.Errorf("listing players: %w", err)
		}
		for _, p := range roster {
			players.ResetToLobby(p)
			if err := tx.UpdatePlayer(p); err != nil {
				return fmt.Errorf("resetting player: %w", err)
			}
		}
		fx.changed(roomID, events.RoomUpdated)
		return nil
	})
}

// LeaveRoom removes the caller's seat. The last player out deletes the room
// with everything hanging off it; a departing host hands over to the earliest
// remaining joiner. Leaving twice is harmless.
func (c *Controller) LeaveRoom(ctx context.Context, roomID string) error {
	uid, err := caller(ctx)
	if err != nil {
		return err
	}

	return c.update(ctx, func(tx store.Tx, fx *effects) error {
		p, err := tx.GetPlayer(roomID, uid)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading player: %w", err)
		}
		if err := tx.DeletePlayer(roomID, uid); err != nil {
			return fmt.Errorf("deleting player: %w", err)
		}

		remaining, err := tx.ListPlayers(roomID)
		if err != nil {
			return fmt.Errorf("listing players: %w", err)
		}
		if len(remaining) == 0 {
			return c.closeRoom(tx, fx, roomID)
		}

		room, err := tx.GetRoom(roomID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading room: %w", err)
		}
		if p.IsHost || room.HostID == uid {
			next := remaining[0]
			next.IsHost = true
			if err := tx.UpdatePlayer(next); err != nil {
				return fmt.Errorf("promoting host: %w", err)
			}
			room.HostID = next.UserID
			if err := tx.UpdateRoom(room); err != nil {
				return fmt.Errorf("updating room host: %w", err)
			}
			c.logger.Info().Str("room_id", roomID).Str("host_id", next.UserID).Msg("host promoted")
		}
		fx.changed(roomID, events.RoomUpdated)
		return nil
	})
}

func (c *Controller) closeRoom(tx store.Tx, fx *effects, roomID string) error {
	if err := tx.DeleteJoinRequests(roomID); err != nil {
		return fmt.Errorf("deleting join requests: %w", err)
	}
	if err := tx.DeleteChatMessages(roomID); err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if err := tx.DeleteHistory(roomID); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	if err := tx.DeleteRoom(roomID); err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	fx.changed(roomID, events.RoomClosed)
	fx.count(c.metrics.RoomsClosed)
	c.logger.Info().Str("room_id", roomID).Msg("room closed")
	return nil
}

// CompleteGame is the host's manual way to end a round. It settles only when
// a winner is already recorded; settlement is keyed by round so a round won
// through progress is never paid twice.
func (c *Controller) CompleteGame(ctx context.Context, roomID string) error {
	uid, err := caller(ctx)
	if err != nil {
		return err
	}

	return c.update(ctx, func(tx store.Tx, fx *effects) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.HostID != uid {
			return gamedata.ErrNotHost
		}
		if room.State != gamedata.StatePlaying {
			return nil
		}
		room.State = gamedata.StateFinished
		if err := tx.UpdateRoom(room); err != nil {
			return fmt.Errorf("updating room: %w", err)
		}

		if room.Winner != "" {
			ids := []string{room.Winner}
			roster, err := tx.ListPlayers(roomID)
			if err != nil {
				return fmt.Errorf("listing players: %w", err)
			}
			for _, p := range roster {
				if p.UserID != room.Winner {
					ids = append(ids, p.UserID)
					break
				}
			}
			fx.settlements = append(fx.settlements, scores.Settlement{
				RoomID:    roomID,
				Round:     room.Round,
				WinnerID:  room.Winner,
				PlayerIDs: ids,
			})
		}
		fx.count(c.metrics.RoundsFinished)
		fx.changed(roomID, events.RoomUpdated)
		return nil
	})
}

func (c *Controller) GetGameHistory(ctx context.Context, roomID string) ([]*gamedata.GameHistory, error) {
	if _, err := caller(ctx); err != nil {
		return nil, err
	}

	var history []*gamedata.GameHistory
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := loadRoom(tx, roomID); err != nil {
			return err
		}
		var err error
		history, err = tx.ListHistory(roomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// CurrentRoom returns the room the caller has a seat in, or "".
func (c *Controller) CurrentRoom(ctx context.Context) (string, error) {
	uid, err := caller(ctx)
	if err != nil {
		return "", err
	}

	var roomID string
	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		id, err := tx.PlayerRoom(uid)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		roomID = id
		return err
	})
	return roomID, err
}

// ListPublicRooms lists visible public rooms, newest first.
func (c *Controller) ListPublicRooms(ctx context.Context) ([]RoomSummary, error) {
	var list []RoomSummary
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		list = nil
		rooms, err := tx.ListPublicRooms()
		if err != nil {
			return fmt.Errorf("listing public rooms: %w", err)
		}
		for _, r := range rooms {
			roster, err := tx.ListPlayers(r.ID)
			if err != nil {
				return fmt.Errorf("listing players: %w", err)
			}
			list = append(list, RoomSummary{Room: r, PlayerCount: len(roster), Capacity: c.capacity})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// SetRoomActive hides or shows a room in the public listing.
func (c *Controller) SetRoomActive(ctx context.Context, roomID string, active bool) error {
	uid, err := caller(ctx)
	if err != nil {
		return err
	}

	return c.update(ctx, func(tx store.Tx, fx *effects) error {
		room, err := loadRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.HostID != uid {
			return gamedata.ErrNotHost
		}
		room.Active = active
		if err := tx.UpdateRoom(room); err != nil {
			return fmt.Errorf("updating room: %w", err)
		}
		fx.changed(roomID, events.RoomUpdated)
		return nil
	})
}

// MyJoinRequest returns the caller's most recent request for the room, or nil.
func (c *Controller) MyJoinRequest(ctx context.Context, roomID string) (*gamedata.JoinRequest, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	var jr *gamedata.JoinRequest
	err = c.store.WithTx(ctx, func(tx store.Tx) error {
		found, err := tx.LatestJoinRequest(roomID, uid)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		jr = found
		return err
	})
	return jr, err
}

// MarkRedirected records that the requester has followed an accepted request
// into the room.
func (c *Controller) MarkRedirected(ctx context.Context, requestID string) error {
	uid, err := caller(ctx)
	if err != nil {
		return err
	}

	return c.update(ctx, func(tx store.Tx, fx *effects) error {
		jr, err := loadRequest(tx, requestID)
		if err != nil {
			return err
		}
		if jr.RequesterID != uid {
			return gamedata.ErrNotRequester
		}
		jr.Redirected = true
		return tx.UpdateJoinRequest(jr)
	})
}
