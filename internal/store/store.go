// Package store defines the unit of work every game operation runs in.
//
// A Store hands out a Tx for the duration of WithTx. All reads that feed a
// decision and the writes that follow it must go through the same Tx; the
// implementations guarantee units of work are serializable with respect to
// each other. Returned records are copies: changing one has no effect until it
// is written back with the matching Update call.
package store

import (
	"context"
	"errors"

	"typerace/internal/aggregate"
	"typerace/internal/gamedata"
)

var (
	ErrNotFound  = errors.New("store: record not found")
	ErrDuplicate = errors.New("store: duplicate record")
)

type Store interface {
	// WithTx runs fn in a serializable unit of work. If fn returns an error
	// every write made through the Tx is discarded.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

type Tx interface {
	GetUser(id string) (*gamedata.User, error)
	// UpsertUser writes the profile fields (name, email) only.
	UpsertUser(u *gamedata.User) error
	// SaveUserStats writes the score-ledger fields only.
	SaveUserStats(u *gamedata.User) error
	ListScoredUsers() ([]*gamedata.User, error)

	InsertRoom(r *gamedata.Room) error
	GetRoom(id string) (*gamedata.Room, error)
	GetRoomByCode(code string) (*gamedata.Room, error)
	UpdateRoom(r *gamedata.Room) error
	DeleteRoom(id string) error
	ListPublicRooms() ([]*gamedata.Room, error)

	// InsertPlayer assigns p.Seq. It fails with ErrDuplicate when the user
	// already has a row in the room.
	InsertPlayer(p *gamedata.Player) error
	GetPlayer(roomID, userID string) (*gamedata.Player, error)
	// ListPlayers returns the roster in join order.
	ListPlayers(roomID string) ([]*gamedata.Player, error)
	UpdatePlayer(p *gamedata.Player) error
	DeletePlayer(roomID, userID string) error
	// PlayerRoom returns the id of a room the user is in, or ErrNotFound.
	PlayerRoom(userID string) (string, error)

	InsertJoinRequest(jr *gamedata.JoinRequest) error
	GetJoinRequest(id string) (*gamedata.JoinRequest, error)
	PendingJoinRequest(roomID, requesterID string) (*gamedata.JoinRequest, error)
	LatestJoinRequest(roomID, requesterID string) (*gamedata.JoinRequest, error)
	// ListJoinRequests filters by status unless status is empty.
	ListJoinRequests(roomID string, status gamedata.RequestStatus) ([]*gamedata.JoinRequest, error)
	UpdateJoinRequest(jr *gamedata.JoinRequest) error
	DeleteJoinRequests(roomID string) error

	InsertHistory(h *gamedata.GameHistory) error
	ListHistory(roomID string) ([]*gamedata.GameHistory, error)
	DeleteHistory(roomID string) error

	InsertChatMessage(m *gamedata.ChatMessage) error
	ListChatMessages(roomID string) ([]*gamedata.ChatMessage, error)
	DeleteChatMessages(roomID string) error

	// ClaimSettlement records that a room round has been paid out. It returns
	// false if the round was already claimed.
	ClaimSettlement(roomID string, round int) (bool, error)

	Leaderboard() aggregate.Index
	// LockLeaderboard excludes concurrent index writers until the unit of
	// work ends.
	LockLeaderboard() error
}
