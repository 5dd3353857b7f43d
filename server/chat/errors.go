package chat

import (
	"errors"

	"supportchat/server/model"
)

var (
	ErrMalformedEnvelope = model.ErrMalformedEnvelope
	ErrEmptyMessage      = errors.New("message is empty")
	ErrMissingTarget     = errors.New("targetUserId is required for admin messages")
	ErrInvalidTarget     = errors.New("targetUserId must identify a user")
	ErrMessageTooLong    = errors.New("message is too long")
	ErrPersistence       = errors.New("message could not be saved")
	ErrHistory           = errors.New("history is unavailable")
)

// clientMessage is the text reported to the sender for a rejected frame.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrMalformedEnvelope):
		return "invalid message format"
	case errors.Is(err, ErrEmptyMessage):
		return "message cannot be empty"
	case errors.Is(err, ErrMissingTarget):
		return "targetUserId is required"
	case errors.Is(err, ErrInvalidTarget):
		return "targetUserId must identify a user"
	case errors.Is(err, ErrMessageTooLong):
		return "message is too long"
	case errors.Is(err, ErrPersistence):
		return "failed to save message"
	case errors.Is(err, ErrHistory):
		return "failed to load history"
	default:
		return "request failed"
	}
}
