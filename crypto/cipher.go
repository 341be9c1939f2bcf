// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package crypto implements the parameter encryption, request signing and
// response decryption scheme of the Zalo web API.
//
// The scheme was reverse-engineered from the official web client: request
// parameters are AES-256-CBC encrypted with a zero IV and PKCS#7 padding,
// requests carry an MD5-based sign key over the sorted parameter values, and
// websocket frames come in three generations (plaintext, gzip and AES-GCM).
package crypto

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// zero IV shared by every CBC operation in the protocol
var zeroIV = make([]byte, aes.BlockSize)

func pkcs7Pad(data []byte) []byte {
	padLen := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: invalid ciphertext length %d", ErrDecryption, len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("%w: invalid padding byte %d", ErrDecryption, padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: inconsistent padding", ErrDecryption)
		}
	}
	return data[:len(data)-padLen], nil
}

func cbcEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	padded := pkcs7Pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, zeroIV).CryptBlocks(out, padded)
	return out, nil
}

func cbcDecrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: invalid ciphertext length %d", ErrDecryption, len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, zeroIV).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

// EncodeAES encrypts data with a base64-encoded session secret key (the
// zpw_enk value returned at login) and returns base64 ciphertext. This is the
// encoding every message/file/friend API call uses for its params.
func EncodeAES(secretKey, data string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secretKey)
	if err != nil {
		return "", fmt.Errorf("%w: secret key is not valid base64: %v", ErrBadKey, err)
	}
	ct, err := cbcEncrypt(key, []byte(data))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecodeAES reverses EncodeAES: the input is URL-decoded, base64-decoded and
// AES-256-CBC decrypted with the base64-encoded session secret key.
//
// The original client blindly retried this up to three times on failure, but
// the operation is deterministic, so a failure here means the key or the data
// is wrong and retrying cannot help. It fails fast instead.
func DecodeAES(secretKey, data string) (string, error) {
	// PathUnescape, not QueryUnescape: '+' is base64 alphabet here, only
	// %XX sequences from URL transport need decoding.
	if unescaped, err := url.PathUnescape(data); err == nil {
		data = unescaped
	}
	key, err := base64.StdEncoding.DecodeString(secretKey)
	if err != nil {
		return "", fmt.Errorf("%w: secret key is not valid base64: %v", ErrBadKey, err)
	}
	ct, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("%w: payload is not valid base64: %v", ErrDecryption, err)
	}
	pt, err := cbcDecrypt(key, ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// encodeAESRaw encrypts with a key used byte-for-byte (not base64-decoded).
// The fixed platform key and the derived login encrypt key are both 32 ASCII
// characters used directly as AES-256 key material.
func encodeAESRaw(key, data string, asHex, uppercase bool) (string, error) {
	ct, err := cbcEncrypt([]byte(key), []byte(data))
	if err != nil {
		return "", err
	}
	var out string
	if asHex {
		out = hex.EncodeToString(ct)
	} else {
		out = base64.StdEncoding.EncodeToString(ct)
	}
	if uppercase {
		out = strings.ToUpper(out)
	}
	return out, nil
}

// EncodeLoginResponse is the server-side counterpart of DecodeLoginResponse,
// used by mock servers in tests.
func EncodeLoginResponse(encryptKey, data string) (string, error) {
	return encodeAESRaw(encryptKey, data, false, false)
}

// DecodeLoginResponse decrypts the base64 payload of the getLoginInfo response
// with the raw derived login key from the ParamsEncryptor.
func DecodeLoginResponse(encryptKey, data string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("%w: payload is not valid base64: %v", ErrDecryption, err)
	}
	pt, err := cbcDecrypt([]byte(encryptKey), ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// SignKey computes the MD5 sign key over a request type tag and its parameter
// set. Values are concatenated in lexicographic key order, so the result is
// independent of map iteration order.
func SignKey(requestType string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString("zsecure")
	sb.WriteString(requestType)
	for _, k := range keys {
		sb.WriteString(params[k])
	}
	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return out, nil
}
