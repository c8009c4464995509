package gamedata

import "time"

type GameState string

const (
	StateWaiting = GameState("waiting")
	// StateReady is part of the persisted state set but no transition produces it.
	StateReady    = GameState("ready")
	StatePlaying  = GameState("playing")
	StateFinished = GameState("finished")
)

type RoomType string

const (
	RoomPublic  = RoomType("public")
	RoomPrivate = RoomType("private")
)

func (t RoomType) Valid() bool {
	return t == RoomPublic || t == RoomPrivate
}

type RequestStatus string

const (
	RequestPending  = RequestStatus("pending")
	RequestAccepted = RequestStatus("accepted")
	RequestRejected = RequestStatus("rejected")
)

const (
	MinPlayers  = 2
	MaxCapacity = 5
)

type Room struct {
	ID            string    `json:"id"`
	Code          string    `json:"roomCode"`
	Type          RoomType  `json:"roomType"`
	Name          string    `json:"roomName,omitempty"`
	HostID        string    `json:"hostId"`
	State         GameState `json:"gameState"`
	CurrentPhrase string    `json:"currentPhrase,omitempty"`
	Winner        string    `json:"winner,omitempty"`
	Active        bool      `json:"isActive"`
	Round         int       `json:"round"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Player struct {
	ID             string     `json:"id"`
	RoomID         string     `json:"roomId"`
	UserID         string     `json:"userId"`
	Name           string     `json:"name"`
	Progress       string     `json:"progress"`
	IsReady        bool       `json:"isReady"`
	IsHost         bool       `json:"isHost"`
	WPM            *int       `json:"wpm,omitempty"`
	Accuracy       *int       `json:"accuracy,omitempty"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	CompletionTime *time.Time `json:"completionTime,omitempty"`
	// Seq is the join order inside the store; lower joined earlier.
	Seq      int64     `json:"-"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Finished reports whether the player already has a frozen result for the round.
func (p *Player) Finished() bool {
	return p.CompletionTime != nil
}

type JoinRequest struct {
	ID            string        `json:"id"`
	RoomID        string        `json:"roomId"`
	RequesterID   string        `json:"requesterId"`
	RequesterName string        `json:"requesterName"`
	Status        RequestStatus `json:"status"`
	Redirected    bool          `json:"redirected"`
	CreatedAt     time.Time     `json:"createdAt"`
}

type PlayerSnapshot struct {
	UserID         string     `json:"userId"`
	Name           string     `json:"name"`
	WPM            *int       `json:"wpm,omitempty"`
	Accuracy       *int       `json:"accuracy,omitempty"`
	CompletionTime *time.Time `json:"completionTime,omitempty"`
}

type GameHistory struct {
	ID       string           `json:"id"`
	RoomID   string           `json:"roomId"`
	Round    int              `json:"round"`
	EndedAt  time.Time        `json:"endedAt"`
	WinnerID string           `json:"winnerId,omitempty"`
	Players  []PlayerSnapshot `json:"players"`
}

// User is the caller profile together with its score-ledger fields.
// Score is nil until the first settlement.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Score      *int   `json:"score,omitempty"`
	Wins       int    `json:"wins"`
	Losses     int    `json:"losses"`
	TotalGames int    `json:"totalGames"`
	Coins      int    `json:"coins"`
}

// DisplayName falls back the way profiles do when no name was chosen.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return "Anonymous"
}

type ChatKind string

const (
	ChatEmoji   = ChatKind("emoji")
	ChatSticker = ChatKind("sticker")
)

type ChatMessage struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"roomId"`
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Kind     ChatKind  `json:"type"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sentAt"`
}

func IntPtr(i int) *int {
	return &i
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
