// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package crypto

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mau.fi/util/random"
)

// fixedPlatformKey is the platform-wide AES key the web client ships for
// creating the zcid device fingerprint. It's 32 ASCII characters used directly
// as AES-256 key material.
const fixedPlatformKey = "3FC4F0D2AB50057BCE0D90D9187A22B1"

const encVersion = "v2"

const maxKeyAttempts = 3

// ParamsEncryptor derives the per-login-attempt key material (zcid, zcid_ext
// and the folded encrypt key) used to encrypt the getLoginInfo parameters and
// decrypt its response.
type ParamsEncryptor struct {
	zcid       string
	zcidExt    string
	encryptKey string
}

// NewParamsEncryptor creates the key material for one login attempt.
// apiType and deviceID identify the client install; firstLaunchMs is the
// install's first-launch timestamp in milliseconds.
func NewParamsEncryptor(apiType int, deviceID string, firstLaunchMs int64) (*ParamsEncryptor, error) {
	return newParamsEncryptor(apiType, deviceID, firstLaunchMs, randomHexString(6, 12))
}

// newParamsEncryptor is the deterministic core, split out so the derivation
// can be tested with a fixed zcid_ext.
func newParamsEncryptor(apiType int, deviceID string, firstLaunchMs int64, zcidExt string) (*ParamsEncryptor, error) {
	if apiType == 0 || deviceID == "" || firstLaunchMs == 0 {
		return nil, fmt.Errorf("%w: missing zcid inputs", ErrKeyDerivation)
	}
	msg := fmt.Sprintf("%d,%s,%d", apiType, deviceID, firstLaunchMs)
	zcid, err := encodeAESRaw(fixedPlatformKey, msg, true, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	pe := &ParamsEncryptor{zcid: zcid, zcidExt: zcidExt}
	for attempt := 0; ; attempt++ {
		if pe.tryGenerateEncryptKey() {
			break
		}
		if attempt >= maxKeyAttempts {
			return nil, ErrKeyDerivation
		}
	}
	return pe, nil
}

// tryGenerateEncryptKey folds the zcid and the MD5 of zcid_ext into the 32
// character encrypt key. The interleave is load-bearing: the first 8
// even-position characters of MD5(zcid_ext) uppercased, then the first 12
// even-position characters of zcid, then the last 12 odd-position characters
// of zcid in reverse order.
func (pe *ParamsEncryptor) tryGenerateEncryptKey() bool {
	sum := md5.Sum([]byte(pe.zcidExt))
	md5Hex := strings.ToUpper(hex.EncodeToString(sum[:]))
	evenMD5, _ := splitEvenOdd(md5Hex)
	evenZcid, oddZcid := splitEvenOdd(pe.zcid)
	if len(evenMD5) < 8 || len(evenZcid) < 12 || len(oddZcid) < 12 {
		return false
	}
	reversed := make([]byte, len(oddZcid))
	for i, c := range oddZcid {
		reversed[len(oddZcid)-1-i] = c
	}
	pe.encryptKey = string(evenMD5[:8]) + string(evenZcid[:12]) + string(reversed[:12])
	return true
}

func splitEvenOdd(input string) (even, odd []byte) {
	for i := 0; i < len(input); i++ {
		if i%2 == 0 {
			even = append(even, input[i])
		} else {
			odd = append(odd, input[i])
		}
	}
	return
}

// DeriveResponseKey reconstructs the login encrypt key from the zcid
// parameters alone, the way the server rebuilds it to decrypt the params
// field and encrypt its response.
func DeriveResponseKey(zcid, zcidExt string) (string, error) {
	pe := &ParamsEncryptor{zcid: zcid, zcidExt: zcidExt}
	if !pe.tryGenerateEncryptKey() {
		return "", ErrKeyDerivation
	}
	return pe.encryptKey, nil
}

// EncryptKey returns the derived 32-character login encrypt key.
func (pe *ParamsEncryptor) EncryptKey() string {
	return pe.encryptKey
}

// ZCID returns the encrypted device fingerprint.
func (pe *ParamsEncryptor) ZCID() string {
	return pe.zcid
}

// Params returns the key-derivation parameters sent alongside the encrypted
// payload so the server can reconstruct the key.
func (pe *ParamsEncryptor) Params() map[string]string {
	return map[string]string{
		"zcid":     pe.zcid,
		"zcid_ext": pe.zcidExt,
		"enc_ver":  encVersion,
	}
}

// EncodeData encrypts a payload with the derived key, returning base64.
func (pe *ParamsEncryptor) EncodeData(data string) (string, error) {
	return encodeAESRaw(pe.encryptKey, data, false, false)
}

// randomHexString returns a random lowercase hex string whose length is drawn
// from [minLen, maxLen].
func randomHexString(minLen, maxLen int) string {
	if maxLen <= minLen {
		maxLen = 12
	}
	length := minLen + int(random.Bytes(1)[0])%(maxLen-minLen+1)
	return hex.EncodeToString(random.Bytes((length+1)/2))[:length]
}

// RequestContext carries the per-account values every encrypted request includes.
type RequestContext struct {
	DeviceID   string
	Language   string
	APIType    int
	APIVersion int
}

// EncryptedParams is the result of EncryptRequestParams: the full query
// parameter set (including the sign key) and the key needed to decrypt the
// server's response.
type EncryptedParams struct {
	Params     map[string]string
	EncryptKey string
}

// EncryptRequestParams builds the signed, encrypted parameter set for the
// login-domain endpoints (getLoginInfo, getserverinfo). The inner payload is
// the canonical client identification object; nulls never appear in it, so the
// signed set is stable.
func EncryptRequestParams(ctx RequestContext, requestType string) (*EncryptedParams, error) {
	inner := map[string]any{
		"computer_name": "Web",
		"imei":          ctx.DeviceID,
		"language":      ctx.Language,
		"ts":            time.Now().UnixMilli(),
	}
	data, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	pe, err := NewParamsEncryptor(ctx.APIType, ctx.DeviceID, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	encoded, err := pe.EncodeData(string(data))
	if err != nil {
		return nil, err
	}

	params := pe.Params()
	params["params"] = encoded
	params["type"] = strconv.Itoa(ctx.APIType)
	params["client_version"] = strconv.Itoa(ctx.APIVersion)

	// getserverinfo signs a reduced parameter set for historical reasons.
	if requestType == "getserverinfo" {
		params["signkey"] = SignKey(requestType, map[string]string{
			"imei":           ctx.DeviceID,
			"type":           strconv.Itoa(ctx.APIType),
			"client_version": strconv.Itoa(ctx.APIVersion),
			"computer_name":  "Web",
		})
	} else {
		params["signkey"] = SignKey(requestType, params)
	}

	return &EncryptedParams{Params: params, EncryptKey: pe.EncryptKey()}, nil
}
