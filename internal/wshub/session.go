package wshub

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"typerace/internal/broadcast"
	"typerace/internal/gamedata"
	"typerace/internal/rooms"
)

// Actions is the part of the room controller a socket can drive. The context
// passed in carries the connected user's identity.
type Actions interface {
	ToggleReady(ctx context.Context, roomID string) error
	UpdateProgress(ctx context.Context, roomID string, u rooms.ProgressUpdate) error
	LeaveRoom(ctx context.Context, roomID string) error
}

// Serve runs a registered session for c until the connection drops or ctx is
// done. Room changes from updates are forwarded to the client. When the
// session ends while still current, the user leaves the room.
func (h *Hub) Serve(ctx context.Context, c *Client, actions Actions, updates <-chan broadcast.Message) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Register(c)
	log := h.logger.With().Str("room_id", c.RoomID).Str("user_id", c.UserID).Logger()
	log.Debug().Msg("session opened")

	defer func() {
		if !h.Unregister(c) {
			return
		}
		if err := actions.LeaveRoom(context.WithoutCancel(ctx), c.RoomID); err != nil &&
			!errors.Is(err, gamedata.ErrPlayerNotFound) && !errors.Is(err, gamedata.ErrRoomNotFound) {
			log.Warn().Err(err).Msg("leave on disconnect")
		}
		log.Debug().Msg("session closed")
	}()

	go c.WritePump(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-updates:
				if !ok {
					return
				}
				h.Deliver(c, ServerMessage{Type: msg.Event, RoomID: msg.RoomID})
			}
		}
	}()

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, c.Conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := h.dispatch(ctx, c, actions, msg); err != nil {
			h.Deliver(c, errorMessage(c.RoomID, err))
			var ge *gamedata.Error
			if !errors.As(err, &ge) {
				log.Error().Err(err).Str("type", msg.Type).Msg("socket action failed")
			}
		}
	}
}

var ErrUnknownMessage = errors.New("wshub: unknown message type")

func (h *Hub) dispatch(ctx context.Context, c *Client, actions Actions, msg ClientMessage) error {
	switch msg.Type {
	case "ready":
		return actions.ToggleReady(ctx, c.RoomID)
	case "progress":
		return actions.UpdateProgress(ctx, c.RoomID, rooms.ProgressUpdate{
			Progress: msg.Progress,
			Phrase:   msg.Phrase,
			WPM:      msg.WPM,
		})
	case "ping":
		h.Deliver(c, ServerMessage{Type: "pong", RoomID: c.RoomID})
		return nil
	default:
		return ErrUnknownMessage
	}
}

func errorMessage(roomID string, err error) ServerMessage {
	msg := ServerMessage{Type: "error", RoomID: roomID, Code: "Internal"}
	var ge *gamedata.Error
	switch {
	case errors.As(err, &ge):
		msg.Code = ge.Code
	case errors.Is(err, ErrUnknownMessage):
		msg.Code = "UnknownMessage"
	}
	return msg
}
