// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sessions provides the TTL key/value store for transient QR login
// state, with Redis and in-memory implementations.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/wpachat/zalogo/types"
)

// ErrNotFound is returned when a QR session doesn't exist or has expired.
var ErrNotFound = errors.New("qr session not found or expired")

// QRSession is the transient state of one QR login handshake, keyed by an
// opaque session ID. It holds everything needed to resume polling from a
// different process: the cookie snapshot, the scraped login page version and
// the scannable challenge code.
type QRSession struct {
	Cookies   *types.CookieJar `json:"cookies"`
	Version   string           `json:"version"`
	Code      string           `json:"code"`
	CreatedAt time.Time        `json:"created_at"`
}

// Store is a TTL-keyed store for QR sessions. Entries expire on their own;
// Delete is called unconditionally when a handshake reaches a terminal state.
type Store interface {
	Put(ctx context.Context, id string, session *QRSession, ttl time.Duration) error
	// Get returns ErrNotFound for missing or expired entries.
	Get(ctx context.Context, id string) (*QRSession, error)
	Delete(ctx context.Context, id string) error
	// Renew extends the TTL of an existing entry without rewriting it.
	Renew(ctx context.Context, id string, ttl time.Duration) error
}
