// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"errors"
	"fmt"
)

// Miscellaneous errors
var (
	ErrClientIsNil      = errors.New("client is nil")
	ErrNotLoggedIn      = errors.New("account is not logged in")
	ErrAlreadyConnected = errors.New("websocket is already connected")
	ErrNotConnected     = errors.New("websocket not connected")

	ErrTooManyConnections = errors.New("connection limit reached")
)

// QR login errors
var (
	ErrLoginDeclined   = errors.New("QR code was declined on the phone")
	ErrLoginExpired    = errors.New("QR code expired")
	ErrAccountExists   = errors.New("account is already linked")
	ErrSessionNotFound = errors.New("QR session not found or expired")
)

// Send limit errors. The caps are hard protocol limits checked before any
// network call.
var (
	ErrFileTooLarge = errors.New("file exceeds the 1 GiB size limit")
	ErrTooManyFiles = errors.New("more than 50 files in one send")
	ErrEmptySend    = errors.New("nothing to send")
)

// ProtocolError is returned when the server responds with an unexpected shape
// or a non-zero error code. It is not retryable.
type ProtocolError struct {
	Code    int
	Message string
}

func (pe *ProtocolError) Error() string {
	if pe.Message != "" {
		return fmt.Sprintf("server returned error %d: %s", pe.Code, pe.Message)
	}
	return fmt.Sprintf("server returned error %d", pe.Code)
}

// AuthExpiredError is returned when the session cookies or QR handshake are no
// longer valid. It is terminal for the credential; the caller must re-login.
type AuthExpiredError struct {
	Reason string
}

func (ae *AuthExpiredError) Error() string {
	return "authentication expired: " + ae.Reason
}

// HTTPError wraps a non-200 status from the API. Server-side 5xx statuses are
// transient; everything else is surfaced as-is.
type HTTPError struct {
	Status int
	URL    string
}

func (he *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", he.Status, he.URL)
}

// IsTransient reports whether the status suggests a retry could succeed.
func (he *HTTPError) IsTransient() bool {
	switch he.Status {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsAuthFailure reports whether the status means the session itself was
// rejected rather than the individual request.
func (he *HTTPError) IsAuthFailure() bool {
	return he.Status == 401 || he.Status == 403
}
