package server

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/signal"
)

type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindValidation       ErrorKind = "validation"
	KindPersistence      ErrorKind = "persistence"
	KindConflict         ErrorKind = "conflict"
	KindInternal         ErrorKind = "internal"
)

// EventError is a handler failure reported to the client as a *_error event.
type EventError struct {
	Kind         ErrorKind
	Message      string
	RequiredTier string
	Err          error
}

func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

func NotFound(format string, args ...any) *EventError {
	return &EventError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...any) *EventError {
	return &EventError{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *EventError {
	return &EventError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *EventError {
	return &EventError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Persistence(err error) *EventError {
	return &EventError{Kind: KindPersistence, Message: "failed to save changes, please retry", Err: err}
}

// toEventError classifies err for the client. Unknown errors are reported
// as persistence failures.
func toEventError(err error) *EventError {
	var ee *EventError
	switch {
	case errors.As(err, &ee):
		return ee
	case errors.Is(err, sql.ErrNoRows):
		return &EventError{Kind: KindNotFound, Message: "not found", Err: err}
	case errors.Is(err, database.ErrConflict):
		return &EventError{Kind: KindConflict, Message: "it was changed by someone else, reload and retry", Err: err}
	case errors.Is(err, database.ErrDuplicate):
		return &EventError{Kind: KindConflict, Message: "already exists", Err: err}
	case errors.Is(err, signal.ErrNotAuthor):
		return &EventError{Kind: KindPermissionDenied, Message: err.Error(), Err: err}
	case errors.Is(err, signal.ErrAlreadyClosed):
		return &EventError{Kind: KindConflict, Message: err.Error(), Err: err}
	case errors.Is(err, signal.ErrReopen),
		errors.Is(err, signal.ErrInvalidOutcome),
		errors.Is(err, signal.ErrInvalidClosePrice):
		return &EventError{Kind: KindValidation, Message: err.Error(), Err: err}
	default:
		return Persistence(err)
	}
}

// errorFamily names the *_error event reported for a failed client event.
func errorFamily(event string) string {
	switch event {
	case EvRegisterUser:
		return "registration_error"
	case EvJoinRoom, EvLeaveRoom, EvCreatePrivateRoom, EvInviteToRoom,
		EvAcceptInvitation, EvRemoveMember, EvGetMyRooms:
		return "room_error"
	case EvEditMessage:
		return "edit_error"
	case EvDeleteMessage:
		return "delete_error"
	case EvAddReaction:
		return "reaction_error"
	case EvUpdateSignalOutcome:
		return "signal_error"
	case EvFollowUser, EvUnfollowUser:
		return "follow_error"
	case EvUpgradeSubscription:
		return "upgrade_error"
	case EvGetLeaderboard:
		return "leaderboard_error"
	case EvGetNotifications, EvMarkNotificationRead, EvMarkAllRead:
		return "notification_error"
	case EvGetPreferences, EvUpdatePreferences:
		return "preferences_error"
	default:
		return "message_error"
	}
}
