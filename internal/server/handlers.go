package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"typerace/internal/analytics"
	"typerace/internal/gamedata"
	"typerace/internal/identity"
	"typerace/internal/rooms"
	"typerace/internal/scores"
	"typerace/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logFor(r).Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store_error"}, "unhealthy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "healthy")
}

type profileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := identity.UserID(r.Context())
	if !ok {
		s.writeError(w, r, gamedata.ErrUnauthenticated)
		return
	}
	var req profileRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var user *gamedata.User
	err := s.store.WithTx(r.Context(), func(tx store.Tx) error {
		if err := tx.UpsertUser(&gamedata.User{ID: uid, Name: req.Name, Email: req.Email}); err != nil {
			return err
		}
		var err error
		user, err = tx.GetUser(uid)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user, "profile saved")
}

func (s *Server) handleCurrentRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := s.rooms.CurrentRoom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var data any
	if roomID != "" {
		data = map[string]string{"roomId": roomID}
	}
	writeJSON(w, http.StatusOK, data, "")
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	list, err := s.rooms.ListPublicRooms(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list, "")
}

type createRoomRequest struct {
	Type gamedata.RoomType `json:"type"`
	Name string            `json:"name"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ref, err := s.rooms.CreateRoom(r.Context(), req.Type, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref, "room created")
}

type joinRoomRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ref, err := s.rooms.JoinRoom(r.Context(), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref, "joined room")
}

func (s *Server) handleRoomState(w http.ResponseWriter, r *http.Request) {
	state, err := s.rooms.GetRoomState(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state, "")
}

func (s *Server) handleRequestToJoin(w http.ResponseWriter, r *http.Request) {
	if err := s.rooms.RequestToJoinRoom(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, nil, "join request sent")
}

func (s *Server) handleMyJoinRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.rooms.MyJoinRequest(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req, "")
}

type joinRequestAction struct {
	Action rooms.Action `json:"action"`
}

func (s *Server) handleJoinRequestAction(w http.ResponseWriter, r *http.Request) {
	var req joinRequestAction
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.rooms.HandleJoinRequest(r.Context(), chi.URLParam(r, "requestID"), req.Action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res, "")
}

func (s *Server) handleRedirected(w http.ResponseWriter, r *http.Request) {
	if err := s.rooms.MarkRedirected(r.Context(), chi.URLParam(r, "requestID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.rooms.ToggleReady(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "")
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	uid, ok := identity.UserID(r.Context())
	if !ok {
		s.writeError(w, r, gamedata.ErrUnauthenticated)
		return
	}
	if !s.progress.Allow(uid) {
		s.writeError(w, r, gamedata.ErrRateLimited)
		return
	}
	var req rooms.ProgressUpdate
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.rooms.UpdateProgress(r.Context(), chi.URLParam(r, "roomID"), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "")
}

func (s *Server) handleNewRound(w http.ResponseWriter, r *http.Request) {
	if err := s.rooms.StartNewRound(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "")
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if err := s.rooms.CompleteGame(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "game completed")
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.rooms.SetRoomActive(r.Context(), chi.URLParam(r, "roomID"), req.Active); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "")
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.rooms.LeaveRoom(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil, "left room")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.rooms.GetGameHistory(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history, "")
}

func (s *Server) handleListChat(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.List(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs, "")
}

type chatRequest struct {
	Type    gamedata.ChatKind `json:"type"`
	Content string            `json:"content"`
}

func (s *Server) handleSendChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, err := s.chat.Send(r.Context(), chi.URLParam(r, "roomID"), req.Type, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg, "")
}

type scoreRequest struct {
	UserID      string         `json:"userId"`
	Result      scores.Outcome `json:"result"`
	PlayerCount int            `json:"playerCount"`
	Placement   int            `json:"placement"`
}

// handleUpdateScore is an administrative correction. Races settle through the
// room controller, never through this route.
func (s *Server) handleUpdateScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		s.writeError(w, r, errMissingUser)
		return
	}
	res, err := s.ledger.UpdatePlayerScore(r.Context(), req.UserID, req.Result, req.PlayerCount, req.Placement)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res, "")
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.GetLeaderboard(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries, "")
}

func (s *Server) handleLeaderboardPage(w http.ResponseWriter, r *http.Request) {
	minScore, err := intQuery(r, "minScore", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	size, err := intQuery(r, "pageSize", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.ledger.LeaderboardPage(r.Context(), minScore, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page, "")
}

func (s *Server) handleUserRank(w http.ResponseWriter, r *http.Request) {
	rank, err := s.ledger.GetUserRank(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rank, "")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var user *gamedata.User
	err := s.store.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		user, err = tx.GetUser(userID)
		if errors.Is(err, store.ErrNotFound) {
			return gamedata.ErrUserNotFound
		}
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rank, err := s.ledger.GetUserRank(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.NewProfile(user, rank), "")
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.Backfill(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logFor(r).Info().Int("processed", n).Msg("leaderboard backfilled")
	writeJSON(w, http.StatusOK, map[string]int{"processed": n}, "leaderboard rebuilt")
}

var errMissingUser = &gamedata.Error{Kind: gamedata.KindInvalidArgument, Code: "MissingUser", Message: "userId is required"}

var errBadQuery = &gamedata.Error{Kind: gamedata.KindInvalidArgument, Code: "InvalidQuery", Message: "query parameters must be integers"}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, errBadQuery
	}
	return i, nil
}
