package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"typerace/internal/aggregate"
	"typerace/internal/gamedata"
)

// Memory keeps everything in process. One mutex serializes units of work and
// every mutation journals its inverse so a failed unit of work leaves no trace.
type Memory struct {
	mu       sync.Mutex
	users    map[string]*gamedata.User
	rooms    map[string]*gamedata.Room
	players  map[string]map[string]*gamedata.Player
	requests map[string]*gamedata.JoinRequest
	reqSeq   map[string]int64 // insertion order of requests
	history  map[string][]*gamedata.GameHistory
	chat     map[string][]*gamedata.ChatMessage
	settled  map[string]bool
	index    *aggregate.Memory
	seq      int64
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*gamedata.User),
		rooms:    make(map[string]*gamedata.Room),
		players:  make(map[string]map[string]*gamedata.Player),
		requests: make(map[string]*gamedata.JoinRequest),
		reqSeq:   make(map[string]int64),
		history:  make(map[string][]*gamedata.GameHistory),
		chat:     make(map[string][]*gamedata.ChatMessage),
		settled:  make(map[string]bool),
		index:    aggregate.NewMemory(),
	}
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close() error {
	return nil
}

type memTx struct {
	m        *Memory
	undo     []func()
	snapshot bool
}

func (t *memTx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func copyUser(u *gamedata.User) *gamedata.User {
	c := *u
	return &c
}

func copyRoom(r *gamedata.Room) *gamedata.Room {
	c := *r
	return &c
}

func copyPlayer(p *gamedata.Player) *gamedata.Player {
	c := *p
	return &c
}

func copyRequest(jr *gamedata.JoinRequest) *gamedata.JoinRequest {
	c := *jr
	return &c
}

func copyHistory(h *gamedata.GameHistory) *gamedata.GameHistory {
	c := *h
	c.Players = slices.Clone(h.Players)
	return &c
}

//
// Users.
//

func (t *memTx) GetUser(id string) (*gamedata.User, error) {
	u, ok := t.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (t *memTx) UpsertUser(u *gamedata.User) error {
	prev, ok := t.m.users[u.ID]
	if !ok {
		t.m.users[u.ID] = &gamedata.User{ID: u.ID, Name: u.Name, Email: u.Email}
		t.record(func() { delete(t.m.users, u.ID) })
		return nil
	}
	old := *prev
	prev.Name = u.Name
	prev.Email = u.Email
	t.record(func() { *prev = old })
	return nil
}

func (t *memTx) SaveUserStats(u *gamedata.User) error {
	prev, ok := t.m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	old := *prev
	prev.Score = u.Score
	prev.Wins = u.Wins
	prev.Losses = u.Losses
	prev.TotalGames = u.TotalGames
	prev.Coins = u.Coins
	t.record(func() { *prev = old })
	return nil
}

func (t *memTx) ListScoredUsers() ([]*gamedata.User, error) {
	list := make([]*gamedata.User, 0, len(t.m.users))
	for _, u := range t.m.users {
		if u.Score != nil {
			list = append(list, copyUser(u))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

//
// Rooms.
//

func (t *memTx) InsertRoom(r *gamedata.Room) error {
	if _, exists := t.m.rooms[r.ID]; exists {
		return ErrDuplicate
	}
	for _, other := range t.m.rooms {
		if other.Code == r.Code {
			return ErrDuplicate
		}
	}
	t.m.rooms[r.ID] = copyRoom(r)
	t.record(func() { delete(t.m.rooms, r.ID) })
	return nil
}

func (t *memTx) GetRoom(id string) (*gamedata.Room, error) {
	r, ok := t.m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRoom(r), nil
}

func (t *memTx) GetRoomByCode(code string) (*gamedata.Room, error) {
	for _, r := range t.m.rooms {
		if r.Code == code {
			return copyRoom(r), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateRoom(r *gamedata.Room) error {
	prev, ok := t.m.rooms[r.ID]
	if !ok {
		return ErrNotFound
	}
	t.m.rooms[r.ID] = copyRoom(r)
	t.record(func() { t.m.rooms[r.ID] = prev })
	return nil
}

func (t *memTx) DeleteRoom(id string) error {
	prev, ok := t.m.rooms[id]
	if !ok {
		return nil
	}
	delete(t.m.rooms, id)
	t.record(func() { t.m.rooms[id] = prev })
	return nil
}

func (t *memTx) ListPublicRooms() ([]*gamedata.Room, error) {
	var list []*gamedata.Room
	for _, r := range t.m.rooms {
		if r.Type == gamedata.RoomPublic && r.Active {
			list = append(list, copyRoom(r))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

//
// Players.
//

func (t *memTx) InsertPlayer(p *gamedata.Player) error {
	roster, ok := t.m.players[p.RoomID]
	if !ok {
		roster = make(map[string]*gamedata.Player)
		t.m.players[p.RoomID] = roster
		t.record(func() { delete(t.m.players, p.RoomID) })
	}
	if _, exists := roster[p.UserID]; exists {
		return ErrDuplicate
	}
	prevSeq := t.m.seq
	t.m.seq++
	p.Seq = t.m.seq
	roster[p.UserID] = copyPlayer(p)
	t.record(func() {
		delete(roster, p.UserID)
		t.m.seq = prevSeq
	})
	return nil
}

func (t *memTx) GetPlayer(roomID, userID string) (*gamedata.Player, error) {
	p, ok := t.m.players[roomID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPlayer(p), nil
}

func (t *memTx) ListPlayers(roomID string) ([]*gamedata.Player, error) {
	roster := t.m.players[roomID]
	list := make([]*gamedata.Player, 0, len(roster))
	for _, p := range roster {
		list = append(list, copyPlayer(p))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list, nil
}

func (t *memTx) UpdatePlayer(p *gamedata.Player) error {
	roster := t.m.players[p.RoomID]
	prev, ok := roster[p.UserID]
	if !ok {
		return ErrNotFound
	}
	next := copyPlayer(p)
	next.Seq = prev.Seq
	roster[p.UserID] = next
	t.record(func() { roster[p.UserID] = prev })
	return nil
}

func (t *memTx) DeletePlayer(roomID, userID string) error {
	roster := t.m.players[roomID]
	prev, ok := roster[userID]
	if !ok {
		return nil
	}
	delete(roster, userID)
	t.record(func() { roster[userID] = prev })
	if len(roster) == 0 {
		delete(t.m.players, roomID)
		t.record(func() { t.m.players[roomID] = roster })
	}
	return nil
}

func (t *memTx) PlayerRoom(userID string) (string, error) {
	var found *gamedata.Player
	for _, roster := range t.m.players {
		if p, ok := roster[userID]; ok && (found == nil || p.Seq < found.Seq) {
			found = p
		}
	}
	if found == nil {
		return "", ErrNotFound
	}
	return found.RoomID, nil
}

//
// Join requests.
//

func (t *memTx) InsertJoinRequest(jr *gamedata.JoinRequest) error {
	if _, exists := t.m.requests[jr.ID]; exists {
		return ErrDuplicate
	}
	if jr.Status == gamedata.RequestPending {
		if _, err := t.PendingJoinRequest(jr.RoomID, jr.RequesterID); err == nil {
			return ErrDuplicate
		}
	}
	prevSeq := t.m.seq
	t.m.seq++
	t.m.requests[jr.ID] = copyRequest(jr)
	t.m.reqSeq[jr.ID] = t.m.seq
	t.record(func() {
		delete(t.m.requests, jr.ID)
		delete(t.m.reqSeq, jr.ID)
		t.m.seq = prevSeq
	})
	return nil
}

func (t *memTx) GetJoinRequest(id string) (*gamedata.JoinRequest, error) {
	jr, ok := t.m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(jr), nil
}

func (t *memTx) PendingJoinRequest(roomID, requesterID string) (*gamedata.JoinRequest, error) {
	for _, jr := range t.m.requests {
		if jr.RoomID == roomID && jr.RequesterID == requesterID && jr.Status == gamedata.RequestPending {
			return copyRequest(jr), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) LatestJoinRequest(roomID, requesterID string) (*gamedata.JoinRequest, error) {
	var latest *gamedata.JoinRequest
	for _, jr := range t.m.requests {
		if jr.RoomID != roomID || jr.RequesterID != requesterID {
			continue
		}
		if latest == nil || t.requestBefore(latest, jr) {
			latest = jr
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyRequest(latest), nil
}

func (t *memTx) ListJoinRequests(roomID string, status gamedata.RequestStatus) ([]*gamedata.JoinRequest, error) {
	var list []*gamedata.JoinRequest
	for _, jr := range t.m.requests {
		if jr.RoomID == roomID && (status == "" || jr.Status == status) {
			list = append(list, copyRequest(jr))
		}
	}
	sort.Slice(list, func(i, j int) bool { return t.requestBefore(list[i], list[j]) })
	return list, nil
}

// requestBefore orders by creation time, then by insertion.
func (t *memTx) requestBefore(a, b *gamedata.JoinRequest) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return t.m.reqSeq[a.ID] < t.m.reqSeq[b.ID]
}

func (t *memTx) UpdateJoinRequest(jr *gamedata.JoinRequest) error {
	prev, ok := t.m.requests[jr.ID]
	if !ok {
		return ErrNotFound
	}
	t.m.requests[jr.ID] = copyRequest(jr)
	t.record(func() { t.m.requests[jr.ID] = prev })
	return nil
}

func (t *memTx) DeleteJoinRequests(roomID string) error {
	for id, jr := range t.m.requests {
		if jr.RoomID == roomID {
			seq := t.m.reqSeq[id]
			delete(t.m.requests, id)
			delete(t.m.reqSeq, id)
			t.record(func() {
				t.m.requests[id] = jr
				t.m.reqSeq[id] = seq
			})
		}
	}
	return nil
}

//
// History and chat.
//

func (t *memTx) InsertHistory(h *gamedata.GameHistory) error {
	prev := t.m.history[h.RoomID]
	t.m.history[h.RoomID] = append(slices.Clip(prev), copyHistory(h))
	t.record(func() { t.m.history[h.RoomID] = prev })
	return nil
}

func (t *memTx) ListHistory(roomID string) ([]*gamedata.GameHistory, error) {
	list := make([]*gamedata.GameHistory, 0, len(t.m.history[roomID]))
	for _, h := range t.m.history[roomID] {
		list = append(list, copyHistory(h))
	}
	return list, nil
}

func (t *memTx) DeleteHistory(roomID string) error {
	prev, ok := t.m.history[roomID]
	if !ok {
		return nil
	}
	delete(t.m.history, roomID)
	t.record(func() { t.m.history[roomID] = prev })
	return nil
}

func (t *memTx) InsertChatMessage(msg *gamedata.ChatMessage) error {
	prev := t.m.chat[msg.RoomID]
	c := *msg
	t.m.chat[msg.RoomID] = append(slices.Clip(prev), &c)
	t.record(func() { t.m.chat[msg.RoomID] = prev })
	return nil
}

func (t *memTx) ListChatMessages(roomID string) ([]*gamedata.ChatMessage, error) {
	list := make([]*gamedata.ChatMessage, 0, len(t.m.chat[roomID]))
	for _, msg := range t.m.chat[roomID] {
		c := *msg
		list = append(list, &c)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].SentAt.Before(list[j].SentAt) })
	return list, nil
}

func (t *memTx) DeleteChatMessages(roomID string) error {
	prev, ok := t.m.chat[roomID]
	if !ok {
		return nil
	}
	delete(t.m.chat, roomID)
	t.record(func() { t.m.chat[roomID] = prev })
	return nil
}

//
// Settlement and leaderboard.
//

func (t *memTx) ClaimSettlement(roomID string, round int) (bool, error) {
	key := fmt.Sprintf("%s/%d", roomID, round)
	if t.m.settled[key] {
		return false, nil
	}
	t.m.settled[key] = true
	t.record(func() { delete(t.m.settled, key) })
	return true, nil
}

func (t *memTx) Leaderboard() aggregate.Index {
	return &memIndex{tx: t}
}

// LockLeaderboard is a no-op: the store mutex already excludes every other
// unit of work.
func (t *memTx) LockLeaderboard() error {
	return nil
}

// memIndex snapshots the shared index before the first write of a unit of
// work so rollback can restore it.
type memIndex struct {
	tx *memTx
}

func (ix *memIndex) beforeWrite() {
	if ix.tx.snapshot {
		return
	}
	ix.tx.snapshot = true
	snap := ix.tx.m.index.Clone()
	ix.tx.record(func() { ix.tx.m.index.Restore(snap) })
}

func (ix *memIndex) Count(b aggregate.Bounds) (int, error) {
	return ix.tx.m.index.Count(b)
}

func (ix *memIndex) At(offset int) (aggregate.Entry, error) {
	return ix.tx.m.index.At(offset)
}

func (ix *memIndex) Paginate(b aggregate.Bounds, pageSize int) ([]aggregate.Entry, error) {
	return ix.tx.m.index.Paginate(b, pageSize)
}

func (ix *memIndex) Insert(e aggregate.Entry) error {
	ix.beforeWrite()
	return ix.tx.m.index.Insert(e)
}

func (ix *memIndex) Remove(e aggregate.Entry) error {
	ix.beforeWrite()
	return ix.tx.m.index.Remove(e)
}

func (ix *memIndex) Clear() error {
	ix.beforeWrite()
	return ix.tx.m.index.Clear()
}
