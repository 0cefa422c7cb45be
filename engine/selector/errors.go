package selector

import (
	"errors"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
)

// Configuration errors need administrator action
var (
	ErrPaused              = errors.New("router is paused")
	ErrUnsupportedChain    = errors.New("unsupported chain")
	ErrRouteNotConfigured  = errors.New("route not configured")
	ErrSourceUnavailable   = errors.New("source token not available on source chain")
	ErrMissingSwapPool     = errors.New("swap instruction required")
	ErrProtocolUnavailable = errors.New("route has no protocol")
)

// Caller errors can be retried with corrected input
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrZeroRecipient      = errors.New("invalid recipient")
	ErrSameChain          = errors.New("source and destination chain are the same")
	ErrUnknownToken       = errors.New("unknown token")
	ErrInsufficientFee    = errors.New("insufficient prepaid fee")
	ErrZeroMinOutput      = errors.New("minimum output required for swap routes")
	ErrMinOutputTooHigh   = errors.New("minimum output exceeds expected output")
	ErrInvalidRouteData   = errors.New("invalid route data")
	ErrRouteDataConflicts = errors.New("route data conflicts with configured swap pool")
)

// Class groups validation errors by who can fix them
type Class string

const (
	ClassConfiguration Class = "configuration"
	ClassCaller        Class = "caller"
	ClassUnknown       Class = "unknown"
)

var configurationErrors = []error{
	ErrPaused,
	ErrUnsupportedChain,
	ErrRouteNotConfigured,
	ErrSourceUnavailable,
	ErrMissingSwapPool,
	ErrProtocolUnavailable,
	catalog.ErrTokenNotNative,
}

var callerErrors = []error{
	ErrInvalidAmount,
	ErrZeroRecipient,
	ErrSameChain,
	ErrUnknownToken,
	ErrInsufficientFee,
	ErrZeroMinOutput,
	ErrMinOutputTooHigh,
	ErrInvalidRouteData,
	ErrRouteDataConflicts,
}

// Classify returns the error class of a validation error
func Classify(err error) Class {
	for _, target := range configurationErrors {
		if errors.Is(err, target) {
			return ClassConfiguration
		}
	}
	for _, target := range callerErrors {
		if errors.Is(err, target) {
			return ClassCaller
		}
	}
	return ClassUnknown
}
