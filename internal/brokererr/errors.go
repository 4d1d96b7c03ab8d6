// Package brokererr centralizes the error taxonomy every broker adapter and
// the control plane agree on, so callers can branch with errors.Is instead of
// string matching.
package brokererr

import "errors"

var (
	// ErrAuthFailed indicates bad credentials or an expired/invalid token.
	ErrAuthFailed = errors.New("auth failed")
	// ErrNetworkFailed indicates a transport-level failure talking to the vendor.
	ErrNetworkFailed = errors.New("network failed")
	// ErrVendorUnavailable indicates the vendor responded with a 5xx or equivalent.
	ErrVendorUnavailable = errors.New("vendor unavailable")
	// ErrNotConnected indicates an operation was attempted before connect succeeded.
	ErrNotConnected = errors.New("not connected")
	// ErrStale indicates a quote or snapshot is older than one polling interval.
	ErrStale = errors.New("stale")
	// ErrRejected indicates the vendor refused to accept an order.
	ErrRejected = errors.New("rejected")
	// ErrAlreadyTerminal indicates a modify/cancel was attempted on a terminal order.
	ErrAlreadyTerminal = errors.New("already terminal")
	// ErrRateLimited indicates a request was denied by a token-bucket limiter.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound indicates a lookup (credential, instrument, order) found nothing.
	ErrNotFound = errors.New("not found")
	// ErrDecryptFailed indicates vault ciphertext failed to authenticate or decode.
	ErrDecryptFailed = errors.New("decrypt failed")
	// ErrValidation indicates a caller-supplied value failed an invariant.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict indicates an operation is illegal in the current state.
	ErrStateConflict = errors.New("state conflict")
	// ErrInsufficientStop indicates a stop distance of zero or less was
	// computed, or a stop so wide that the risk budget sizes less than one lot.
	ErrInsufficientStop = errors.New("insufficient stop distance")
	// ErrInsufficientMargin indicates an intent would exceed available margin/notional caps.
	ErrInsufficientMargin = errors.New("insufficient margin")
	// ErrRiskRejected indicates risk sizing refused a Decision that the strategy accepted.
	ErrRiskRejected = errors.New("risk rejected")
	// ErrInternal indicates a broken invariant or programmer error.
	ErrInternal = errors.New("internal error")
)
