// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package crypto

import (
	"errors"
)

var (
	// ErrKeyDerivation is returned when the login encrypt key can't be derived.
	ErrKeyDerivation = errors.New("failed to derive encrypt key")
	// ErrBadKey is returned when key material is malformed (wrong length or encoding).
	ErrBadKey = errors.New("invalid key material")
	// ErrDecryption is returned when a payload can't be decrypted or decoded.
	ErrDecryption = errors.New("failed to decrypt payload")
)
