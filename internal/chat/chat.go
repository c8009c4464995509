// Package chat stores the emoji and sticker messages players send inside a
// room.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"typerace/internal/events"
	"typerace/internal/gamedata"
	"typerace/internal/identity"
	"typerace/internal/store"
)

const maxContentRunes = 64

type Publisher interface {
	Publish(ev events.RoomChange) bool
}

type Service struct {
	store  store.Store
	events Publisher
	now    func() time.Time
}

func NewService(st store.Store, pub Publisher) *Service {
	return &Service{store: st, events: pub, now: time.Now}
}

// Send appends a message from the caller, who must have a seat in the room.
func (s *Service) Send(ctx context.Context, roomID string, kind gamedata.ChatKind, content string) (*gamedata.ChatMessage, error) {
	uid, ok := identity.UserID(ctx)
	if !ok {
		return nil, gamedata.ErrUnauthenticated
	}
	content = strings.TrimSpace(content)
	if (kind != gamedata.ChatEmoji && kind != gamedata.ChatSticker) || content == "" || utf8.RuneCountInString(content) > maxContentRunes {
		return nil, gamedata.ErrInvalidMessage
	}

	var msg *gamedata.ChatMessage
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetPlayer(roomID, uid)
		if errors.Is(err, store.ErrNotFound) {
			return gamedata.ErrPlayerNotFound
		}
		if err != nil {
			return fmt.Errorf("loading player: %w", err)
		}

		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("generating message id: %w", err)
		}
		msg = &gamedata.ChatMessage{
			ID:       id,
			RoomID:   roomID,
			UserID:   uid,
			UserName: p.Name,
			Kind:     kind,
			Content:  content,
			SentAt:   s.now(),
		}
		return tx.InsertChatMessage(msg)
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(events.RoomChange{RoomID: roomID, Kind: events.ChatPosted})
	return msg, nil
}

// List returns the room's messages oldest first.
func (s *Service) List(ctx context.Context, roomID string) ([]*gamedata.ChatMessage, error) {
	if _, ok := identity.UserID(ctx); !ok {
		return nil, gamedata.ErrUnauthenticated
	}

	var list []*gamedata.ChatMessage
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListChatMessages(roomID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing chat: %w", err)
	}
	return list, nil
}
