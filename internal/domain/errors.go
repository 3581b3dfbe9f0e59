package domain

import "errors"

var (
	// ErrInvalidArgument rejects malformed input before any store interaction.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInsufficientFunds is returned when a debit exceeds the balance. Nothing is mutated.
	ErrInsufficientFunds = errors.New("insufficient coins")
	// ErrStoreUnavailable marks a ledger store that could not be reached or committed.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
	// ErrUpstreamUnavailable marks a failed or timed out chat provider call.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUserNotFound is returned by operations that never create users.
	ErrUserNotFound = errors.New("user not found")
)
