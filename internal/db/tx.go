package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"typerace/internal/aggregate"
	"typerace/internal/gamedata"
	"typerace/internal/store"
)

// tx implements store.Tx on one sql.Tx. Inserts that can collide use
// ON CONFLICT DO NOTHING so a duplicate is reported without aborting the
// surrounding transaction.
type tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *tx) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, query, args...)
}

func (t *tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, query, args...)
}

func (t *tx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, query, args...)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func affected(res sql.Result, onZero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return onZero
	}
	return nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	return gamedata.IntPtr(int(n.Int64))
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return gamedata.TimePtr(n.Time)
}

type scanner interface {
	Scan(dest ...any) error
}

//
// Users.
//

const userColumns = `id, name, email, score, wins, losses, total_games, coins`

func scanUser(s scanner) (*gamedata.User, error) {
	var u gamedata.User
	var score sql.NullInt64
	if err := s.Scan(&u.ID, &u.Name, &u.Email, &score, &u.Wins, &u.Losses, &u.TotalGames, &u.Coins); err != nil {
		return nil, err
	}
	u.Score = intPtr(score)
	return &u, nil
}

// GetUser locks the row so a score update cannot interleave with another.
func (t *tx) GetUser(id string) (*gamedata.User, error) {
	u, err := scanUser(t.queryRow(`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (t *tx) UpsertUser(u *gamedata.User) error {
	_, err := t.exec(`
		INSERT INTO users (id, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = $2, email = $3
	`, u.ID, u.Name, u.Email)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func (t *tx) SaveUserStats(u *gamedata.User) error {
	res, err := t.exec(`
		UPDATE users SET score = $2, wins = $3, losses = $4, total_games = $5, coins = $6
		WHERE id = $1
	`, u.ID, nullInt(u.Score), u.Wins, u.Losses, u.TotalGames, u.Coins)
	if err != nil {
		return fmt.Errorf("saving user stats: %w", err)
	}
	return affected(res, store.ErrNotFound)
}

func (t *tx) ListScoredUsers() ([]*gamedata.User, error) {
	rows, err := t.query(`SELECT ` + userColumns + ` FROM users WHERE score IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing scored users: %w", err)
	}
	defer rows.Close()

	var list []*gamedata.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

//
// Rooms.
//

const roomColumns = `id, code, type, name, host_id, state, current_phrase, winner, active, round, created_at`

func scanRoom(s scanner) (*gamedata.Room, error) {
	var r gamedata.Room
	err := s.Scan(&r.ID, &r.Code, &r.Type, &r.Name, &r.HostID, &r.State,
		&r.CurrentPhrase, &r.Winner, &r.Active, &r.Round, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) InsertRoom(r *gamedata.Room) error {
	res, err := t.exec(`
		INSERT INTO rooms (`+roomColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
	`, r.ID, r.Code, r.Type, r.Name, r.HostID, r.State, r.CurrentPhrase, r.Winner, r.Active, r.Round, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}
	return affected(res, store.ErrDuplicate)
}

func (t *tx) GetRoom(id string) (*gamedata.Room, error) {
	r, err := scanRoom(t.queryRow(`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (t *tx) GetRoomByCode(code string) (*gamedata.Room, error) {
	r, err := scanRoom(t.queryRow(`SELECT `+roomColumns+` FROM rooms WHERE code = $1`, code))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (t *tx) UpdateRoom(r *gamedata.Room) error {
	res, err := t.exec(`
		UPDATE rooms SET host_id = $2, state = $3, current_phrase = $4, winner = $5, active = $6, round = $7
		WHERE id = $1
	`, r.ID, r.HostID, r.State, r.CurrentPhrase, r.Winner, r.Active, r.Round)
	if err != nil {
		return fmt.Errorf("updating room: %w", err)
	}
	return affected(res, store.ErrNotFound)
}

func (t *tx) DeleteRoom(id string) error {
	if _, err := t.exec(`DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return nil
}

func (t *tx) ListPublicRooms() ([]*gamedata.Room, error) {
	rows, err := t.query(`
		SELECT `+roomColumns+` FROM rooms
		WHERE type = $1 AND active
		ORDER BY created_at DESC
	`, gamedata.RoomPublic)
	if err != nil {
		return nil, fmt.Errorf("listing public rooms: %w", err)
	}
	defer rows.Close()

	var list []*gamedata.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

//
// Players.
//

const playerColumns = `id, room_id, user_id, name, progress, is_ready, is_host, wpm, accuracy, start_time, completion_time, seq, joined_at`

func scanPlayer(s scanner) (*gamedata.Player, error) {
	var p gamedata.Player
	var wpm, accuracy sql.NullInt64
	var start, completion sql.NullTime
	err := s.Scan(&p.ID, &p.RoomID, &p.UserID, &p.Name, &p.Progress, &p.IsReady, &p.IsHost,
		&wpm, &accuracy, &start, &completion, &p.Seq, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	p.WPM = intPtr(wpm)
	p.Accuracy = intPtr(accuracy)
	p.StartTime = timePtr(start)
	p.CompletionTime = timePtr(completion)
	return &p, nil
}

func (t *tx) InsertPlayer(p *gamedata.Player) error {
	err := t.queryRow(`
		INSERT INTO room_players (id, room_id, user_id, name, progress, is_ready, is_host, wpm, accuracy, start_time, completion_time, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING
		RETURNING seq
	`, p.ID, p.RoomID, p.UserID, p.Name, p.Progress, p.IsReady, p.IsHost,
		nullInt(p.WPM), nullInt(p.Accuracy), nullTime(p.StartTime), nullTime(p.CompletionTime), p.JoinedAt,
	).Scan(&p.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("inserting player: %w", err)
	}
	return nil
}

func (t *tx) GetPlayer(roomID, userID string) (*gamedata.Player, error) {
	p, err := scanPlayer(t.queryRow(`SELECT `+playerColumns+` FROM room_players WHERE room_id = $1 AND user_id = $2`, roomID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (t *tx) ListPlayers(roomID string) ([]*gamedata.Player, error) {
	rows, err := t.query(`SELECT `+playerColumns+` FROM room_players WHERE room_id = $1 ORDER BY seq`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	var list []*gamedata.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (t *tx) UpdatePlayer(p *gamedata.Player) error {
	res, err := t.exec(`
		UPDATE room_players SET
			name = $3, progress = $4, is_ready = $5, is_host = $6,
			wpm = $7, accuracy = $8, start_time = $9, completion_time = $10
		WHERE room_id = $1 AND user_id = $2
	`, p.RoomID, p.UserID, p.Name, p.Progress, p.IsReady, p.IsHost,
		nullInt(p.WPM), nullInt(p.Accuracy), nullTime(p.StartTime), nullTime(p.CompletionTime))
	if err != nil {
		return fmt.Errorf("updating player: %w", err)
	}
	return affected(res, store.ErrNotFound)
}

func (t *tx) DeletePlayer(roomID, userID string) error {
	if _, err := t.exec(`DELETE FROM room_players WHERE room_id = $1 AND user_id = $2`, roomID, userID); err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}
	return nil
}

func (t *tx) PlayerRoom(userID string) (string, error) {
	var roomID string
	err := t.queryRow(`SELECT room_id FROM room_players WHERE user_id = $1 ORDER BY seq LIMIT 1`, userID).Scan(&roomID)
	if err != nil {
		return "", notFound(err)
	}
	return roomID, nil
}

//
// Join requests.
//

const requestColumns = `id, room_id, requester_id, requester_name, status, redirected, created_at`

func scanRequest(s scanner) (*gamedata.JoinRequest, error) {
	var jr gamedata.JoinRequest
	if err := s.Scan(&jr.ID, &jr.RoomID, &jr.RequesterID, &jr.RequesterName, &jr.Status, &jr.Redirected, &jr.CreatedAt); err != nil {
		return nil, err
	}
	return &jr, nil
}

func (t *tx) listRequests(query string, args ...any) ([]*gamedata.JoinRequest, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing join requests: %w", err)
	}
	defer rows.Close()

	var list []*gamedata.JoinRequest
	for rows.Next() {
		jr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, jr)
	}
	return list, rows.Err()
}

func (t *tx) InsertJoinRequest(jr *gamedata.JoinRequest) error {
	res, err := t.exec(`
		INSERT INTO join_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`, jr.ID, jr.RoomID, jr.RequesterID, jr.RequesterName, jr.Status, jr.Redirected, jr.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting join request: %w", err)
	}
	return affected(res, store.ErrDuplicate)
}

func (t *tx) GetJoinRequest(id string) (*gamedata.JoinRequest, error) {
	jr, err := scanRequest(t.queryRow(`SELECT `+requestColumns+` FROM join_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return jr, nil
}

func (t *tx) PendingJoinRequest(roomID, requesterID string) (*gamedata.JoinRequest, error) {
	jr, err := scanRequest(t.queryRow(`
		SELECT `+requestColumns+` FROM join_requests
		WHERE room_id = $1 AND requester_id = $2 AND status = $3
	`, roomID, requesterID, gamedata.RequestPending))
	if err != nil {
		return nil, notFound(err)
	}
	return jr, nil
}

func (t *tx) LatestJoinRequest(roomID, requesterID string) (*gamedata.JoinRequest, error) {
	jr, err := scanRequest(t.queryRow(`
		SELECT `+requestColumns+` FROM join_requests
		WHERE room_id = $1 AND requester_id = $2
		ORDER BY created_at DESC, seq DESC LIMIT 1
	`, roomID, requesterID))
	if err != nil {
		return nil, notFound(err)
	}
	return jr, nil
}

func (t *tx) ListJoinRequests(roomID string, status gamedata.RequestStatus) ([]*gamedata.JoinRequest, error) {
	if status == "" {
		return t.listRequests(`SELECT `+requestColumns+` FROM join_requests WHERE room_id = $1 ORDER BY created_at, seq`, roomID)
	}
	return t.listRequests(`
		SELECT `+requestColumns+` FROM join_requests
		WHERE room_id = $1 AND status = $2
		ORDER BY created_at, seq
	`, roomID, status)
}

func (t *tx) UpdateJoinRequest(jr *gamedata.JoinRequest) error {
	res, err := t.exec(`UPDATE join_requests SET status = $2, redirected = $3 WHERE id = $1`, jr.ID, jr.Status, jr.Redirected)
	if err != nil {
		return fmt.Errorf("updating join request: %w", err)
	}
	return affected(res, store.ErrNotFound)
}

func (t *tx) DeleteJoinRequests(roomID string) error {
	if _, err := t.exec(`DELETE FROM join_requests WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("deleting join requests: %w", err)
	}
	return nil
}

//
// History and chat.
//

func (t *tx) InsertHistory(h *gamedata.GameHistory) error {
	players, err := json.Marshal(h.Players)
	if err != nil {
		return fmt.Errorf("encoding history players: %w", err)
	}
	_, err = t.exec(`
		INSERT INTO game_history (id, room_id, round, ended_at, winner_id, players)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, h.ID, h.RoomID, h.Round, h.EndedAt, h.WinnerID, players)
	if err != nil {
		return fmt.Errorf("inserting history: %w", err)
	}
	return nil
}

func (t *tx) ListHistory(roomID string) ([]*gamedata.GameHistory, error) {
	rows, err := t.query(`
		SELECT id, room_id, round, ended_at, winner_id, players
		FROM game_history WHERE room_id = $1
		ORDER BY ended_at
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var list []*gamedata.GameHistory
	for rows.Next() {
		var h gamedata.GameHistory
		var players []byte
		if err := rows.Scan(&h.ID, &h.RoomID, &h.Round, &h.EndedAt, &h.WinnerID, &players); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(players, &h.Players); err != nil {
			return nil, fmt.Errorf("decoding history players: %w", err)
		}
		list = append(list, &h)
	}
	return list, rows.Err()
}

func (t *tx) DeleteHistory(roomID string) error {
	if _, err := t.exec(`DELETE FROM game_history WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	return nil
}

func (t *tx) InsertChatMessage(m *gamedata.ChatMessage) error {
	_, err := t.exec(`
		INSERT INTO chat_messages (id, room_id, user_id, user_name, kind, content, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.RoomID, m.UserID, m.UserName, m.Kind, m.Content, m.SentAt)
	if err != nil {
		return fmt.Errorf("inserting chat message: %w", err)
	}
	return nil
}

func (t *tx) ListChatMessages(roomID string) ([]*gamedata.ChatMessage, error) {
	rows, err := t.query(`
		SELECT id, room_id, user_id, user_name, kind, content, sent_at
		FROM chat_messages WHERE room_id = $1
		ORDER BY sent_at
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing chat messages: %w", err)
	}
	defer rows.Close()

	var list []*gamedata.ChatMessage
	for rows.Next() {
		var m gamedata.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.UserName, &m.Kind, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}

func (t *tx) DeleteChatMessages(roomID string) error {
	if _, err := t.exec(`DELETE FROM chat_messages WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("deleting chat messages: %w", err)
	}
	return nil
}

//
// Settlement and leaderboard.
//

func (t *tx) ClaimSettlement(roomID string, round int) (bool, error) {
	res, err := t.exec(`INSERT INTO settlements (room_id, round) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roomID, round)
	if err != nil {
		return false, fmt.Errorf("claiming settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *tx) Leaderboard() aggregate.Index {
	return &scoreIndex{t: t}
}

func (t *tx) LockLeaderboard() error {
	if _, err := t.exec(`LOCK TABLE score_index IN EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("locking score index: %w", err)
	}
	return nil
}
