package analytics

import (
	"errors"

	"github.com/tos-network/kale-analytics/internal/auth"
)

var (
	// ErrUnauthorized is returned when the caller does not control the address it acts for
	ErrUnauthorized = auth.ErrUnauthorized

	// ErrNotInitialized is returned when the network state has not been created
	ErrNotInitialized = errors.New("network not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize
	ErrAlreadyInitialized = errors.New("network already initialized")

	// ErrArithmeticOverflow is returned when a counter or total leaves its range
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrInvalidAmount is returned for negative stakes or rewards
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAddress is returned for malformed addresses
	ErrInvalidAddress = errors.New("invalid address")
)
