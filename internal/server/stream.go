package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"typerace/internal/events"
	"typerace/internal/gamedata"
	"typerace/internal/identity"
	"typerace/internal/rooms"
	"typerace/internal/wshub"
)

// handleEvents streams room changes as server-sent events. Clients refetch
// the room state on each one.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	state, err := s.rooms.GetRoomState(r.Context(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if state == nil {
		s.writeError(w, r, gamedata.ErrRoomNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	msgChan := s.bcast.Subscribe(roomID)
	defer s.bcast.Unsubscribe(roomID, msgChan)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\n", msg.Event)
			fmt.Fprintf(w, "data: {\"roomId\":%q}\n\n", msg.RoomID)
			flusher.Flush()
			if msg.Event == string(events.RoomClosed) {
				return
			}
		}
	}
}

// handleSocket upgrades a player's connection. Only players of the room may
// connect; dropping the connection leaves the room.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	uid, ok := identity.UserID(r.Context())
	if !ok {
		s.writeError(w, r, gamedata.ErrUnauthenticated)
		return
	}
	state, err := s.rooms.GetRoomState(r.Context(), roomID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if state == nil {
		s.writeError(w, r, gamedata.ErrRoomNotFound)
		return
	}
	if !state.IsCurrentUserInRoom {
		s.writeError(w, r, gamedata.ErrPlayerNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: s.devAuth})
	if err != nil {
		s.logFor(r).Warn().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	updates := s.bcast.Subscribe(roomID)
	defer s.bcast.Unsubscribe(roomID, updates)

	client := &wshub.Client{UserID: uid, RoomID: roomID, Conn: conn, Send: make(chan []byte, 16)}
	if err := s.hub.Serve(r.Context(), client, limitedActions{s}, updates); err != nil {
		s.logFor(r).Debug().Err(err).Str("room_id", roomID).Msg("socket closed")
	}
}

// limitedActions applies the progress rate limit to socket traffic.
type limitedActions struct {
	s *Server
}

func (a limitedActions) ToggleReady(ctx context.Context, roomID string) error {
	return a.s.rooms.ToggleReady(ctx, roomID)
}

func (a limitedActions) UpdateProgress(ctx context.Context, roomID string, u rooms.ProgressUpdate) error {
	uid, _ := identity.UserID(ctx)
	if !a.s.progress.Allow(uid) {
		return gamedata.ErrRateLimited
	}
	return a.s.rooms.UpdateProgress(ctx, roomID, u)
}

func (a limitedActions) LeaveRoom(ctx context.Context, roomID string) error {
	return a.s.rooms.LeaveRoom(ctx, roomID)
}
