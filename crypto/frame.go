// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// FrameEnvelope is the outer JSON object of a websocket frame. Frames start
// with a short binary version prefix before the JSON, which the parser skips.
type FrameEnvelope struct {
	// Version is the protocol generation of the frame payload.
	Encrypt int    `json:"encrypt"`
	Data    string `json:"data"`
	// Key is the base64-encoded frame decryption key; a healthy server sends
	// it on every frame.
	Key string `json:"key"`
}

// ParseFrameEnvelope extracts the JSON envelope from a raw websocket frame.
func ParseFrameEnvelope(raw []byte) (*FrameEnvelope, error) {
	idx := bytes.IndexByte(raw, '{')
	if idx < 0 {
		return nil, fmt.Errorf("%w: no JSON object in frame", ErrDecryption)
	}
	var env FrameEnvelope
	if err := json.Unmarshal(raw[idx:], &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return &env, nil
}

// DecodeFrame decrypts a frame payload according to its generation:
//
//	0: payload is already plaintext
//	1: base64 + gzip
//	2: base64, then AES-256-GCM (16-byte IV, 16 bytes AAD, ciphertext with
//	   appended 16-byte tag), then gzip
//
// The key is the base64-encoded frame key from the envelope.
func DecodeFrame(key string, env *FrameEnvelope) ([]byte, error) {
	switch env.Encrypt {
	case 0:
		return []byte(env.Data), nil
	case 1:
		raw, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: payload is not valid base64: %v", ErrDecryption, err)
		}
		return gunzip(raw)
	case 2:
		return decodeGCMFrame(key, env.Data)
	default:
		return nil, fmt.Errorf("%w: unknown frame generation %d", ErrDecryption, env.Encrypt)
	}
}

func decodeGCMFrame(key, data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not valid base64: %v", ErrDecryption, err)
	}
	if len(raw) < 48 {
		return nil, fmt.Errorf("%w: GCM frame too short (%d bytes)", ErrDecryption, len(raw))
	}
	iv := raw[:16]
	aad := raw[16:32]
	ciphertextWithTag := raw[32:]

	keyBytes, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: frame key is not valid base64: %v", ErrBadKey, err)
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	plaintext, err := gcm.Open(nil, iv, ciphertextWithTag, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return gunzip(plaintext)
}
