package domain

import "errors"

// Error kinds surfaced by the gatekeeping workflows. Callers classify failures
// with errors.Is; wrapped errors keep the underlying cause in the chain.
var (
	// ErrPermissionDenied is returned when a non-owner invokes an owner-only action.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrValidation marks malformed command arguments.
	ErrValidation = errors.New("validation error")
	// ErrChannelNotFound is returned when the platform cannot resolve a chat id.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrInsufficientCapability is returned when the bot is not an administrator
	// or creator of the channel.
	ErrInsufficientCapability = errors.New("bot lacks administrator capability")
	// ErrAlreadyRegistered is informational: the channel is already gated.
	ErrAlreadyRegistered = errors.New("channel already registered")
	// ErrNotSubscribed means no subscription record exists for the user.
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrExpired means the user's subscription record is past its expiry date.
	ErrExpired = errors.New("subscription expired")
	// ErrTransport wraps failed platform calls.
	ErrTransport = errors.New("transport failure")
	// ErrStore wraps failed persistence operations.
	ErrStore = errors.New("store failure")
	// ErrNotFound is returned by repositories when no document matches.
	ErrNotFound = errors.New("record not found")
)
