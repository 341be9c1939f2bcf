// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package store defines the account credential record and the persistence
// interfaces the host application must provide.
package store

import (
	"context"
	"time"

	"github.com/wpachat/zalogo/types"
)

// Status is the lifecycle state of an account credential.
type Status string

const (
	StatusPendingLogin Status = "pending_login"
	StatusActive       Status = "active"
	StatusAuthError    Status = "auth_error"
	StatusDisabled     Status = "disabled"
)

// Default protocol version identifiers of the web client build this library
// mimics. They appear as zpw_type/zpw_ver on every API call.
const (
	DefaultAPIType    = 30
	DefaultAPIVersion = 655
	DefaultLanguage   = "vi"
)

// Account is the durable credential bundle for one authenticated Zalo account.
// It is created by the QR login flow and must be persisted by the host via a
// CredentialStore.
type Account struct {
	// DeviceID is the stable per-install identifier (imei on the wire).
	DeviceID string `json:"device_id"`
	// UserID is the account's Zalo user ID, unique among active credentials.
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	AvatarURL   string `json:"avatar_url"`
	// SecretKey is the base64-encoded session key (zpw_enk) used to encrypt
	// and decrypt all API traffic after login.
	SecretKey string           `json:"secret_key"`
	Cookies   *types.CookieJar `json:"cookies"`

	APIType    int    `json:"api_type"`
	APIVersion int    `json:"api_version"`
	Language   string `json:"language"`

	Status         Status    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// LoggedIn reports whether the account holds a usable session: an active
// status with non-empty key material and cookies.
func (acc *Account) LoggedIn() bool {
	return acc != nil && acc.Status == StatusActive && acc.SecretKey != "" && !acc.Cookies.IsEmpty()
}

// CredentialStore is the host-supplied durable storage for account
// credentials. The library only needs lookups by user ID and full-record
// writes; it makes no assumption about the backing technology.
type CredentialStore interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	PutAccount(ctx context.Context, account *Account) error
	DeleteAccount(ctx context.Context, userID string) error
}
