package gamedata

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors the way callers react to them.
type Kind string

const (
	KindUnauthenticated = Kind("Unauthenticated")
	KindNotFound        = Kind("NotFound")
	KindConflict        = Kind("Conflict")
	KindUnauthorized    = Kind("Unauthorized")
	KindInvalidArgument = Kind("InvalidArgument")
	KindRateLimited     = Kind("RateLimited")
)

// Error is a structured, user-facing error.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Code, e.Message)
}

// HTTP maps the error kind onto a status code.
func (e *Error) HTTP() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusForbidden
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, code, msg string) error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrUnauthenticated = newError(KindUnauthenticated, "Unauthenticated", "authentication required")

	ErrUserNotFound    = newError(KindNotFound, "UserNotFound", "user not found")
	ErrRoomNotFound    = newError(KindNotFound, "RoomNotFound", "room not found")
	ErrPlayerNotFound  = newError(KindNotFound, "PlayerNotFound", "player not found in room")
	ErrRequestNotFound = newError(KindNotFound, "RequestNotFound", "join request not found")

	ErrRoomFull         = newError(KindConflict, "RoomFull", "room is full")
	ErrRoomIsPublic     = newError(KindConflict, "PublicRoomRequiresRequest", "public rooms must be joined through a join request")
	ErrRoomNotPublic    = newError(KindConflict, "RoomNotPublic", "join requests are only accepted by public rooms")
	ErrDuplicateRequest = newError(KindConflict, "DuplicateRequest", "a join request is already pending")
	ErrAlreadyPlayer    = newError(KindConflict, "AlreadyPlayer", "already a player in this room")
	ErrRequestClosed    = newError(KindConflict, "RequestClosed", "join request was already handled")

	ErrNotHost      = newError(KindUnauthorized, "NotHost", "only the room host can do that")
	ErrNotRequester = newError(KindUnauthorized, "NotRequester", "only the requester can do that")
	ErrNotAdmin     = newError(KindUnauthorized, "NotAdmin", "only an administrator can do that")

	ErrInvalidRoomType = newError(KindInvalidArgument, "InvalidRoomType", "room type must be public or private")
	ErrInvalidAction   = newError(KindInvalidArgument, "InvalidAction", "action must be accept or reject")
	ErrInvalidOutcome  = newError(KindInvalidArgument, "InvalidOutcome", "outcome must be win or lose")
	ErrInvalidMessage  = newError(KindInvalidArgument, "InvalidMessage", "chat message must be a non-empty emoji or sticker")
	ErrInvalidBody     = newError(KindInvalidArgument, "InvalidBody", "request body must be valid JSON")

	ErrRateLimited = newError(KindRateLimited, "RateLimited", "too many updates, slow down")
)
