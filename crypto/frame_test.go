// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package crypto

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// sealGen2 builds a generation 2 frame payload the way the server does:
// gzip, then AES-256-GCM with a 16-byte IV and 16 bytes of AAD prepended.
func sealGen2(t *testing.T, key []byte, plaintext []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		t.Fatal(err)
	}
	iv := bytes.Repeat([]byte{0x01}, 16)
	aad := bytes.Repeat([]byte{0x02}, 16)
	sealed := gcm.Seal(nil, iv, gzipBytes(t, plaintext), aad)

	raw := append(append(append([]byte{}, iv...), aad...), sealed...)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestParseFrameEnvelope(t *testing.T) {
	// Frames carry a short binary prefix before the JSON envelope.
	frame := append([]byte{0x01, 0x00, 0x02}, []byte(`{"encrypt":2,"data":"abc","key":"def"}`)...)
	env, err := ParseFrameEnvelope(frame)
	if err != nil {
		t.Fatal(err)
	}
	if env.Encrypt != 2 || env.Data != "abc" || env.Key != "def" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestParseFrameEnvelopeNoJSON(t *testing.T) {
	if _, err := ParseFrameEnvelope([]byte{0x01, 0x02}); !errors.Is(err, ErrDecryption) {
		t.Errorf("got %v, want ErrDecryption", err)
	}
}

func TestDecodeFramePassthrough(t *testing.T) {
	plain, err := DecodeFrame("", &FrameEnvelope{Encrypt: 0, Data: `{"data":{}}`})
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != `{"data":{}}` {
		t.Errorf("got %q", plain)
	}
}

func TestDecodeFrameGzip(t *testing.T) {
	payload := []byte(`{"data":{"actions":[]}}`)
	env := &FrameEnvelope{Encrypt: 1, Data: base64.StdEncoding.EncodeToString(gzipBytes(t, payload))}
	plain, err := DecodeFrame("", env)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, payload) {
		t.Errorf("got %q", plain)
	}
}

func TestDecodeFrameGCM(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	keyB64 := base64.StdEncoding.EncodeToString(key)
	payload, _ := json.Marshal(map[string]any{"data": map[string]any{"messages": []any{}}})

	env := &FrameEnvelope{Encrypt: 2, Data: sealGen2(t, key, payload)}
	plain, err := DecodeFrame(keyB64, env)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, payload) {
		t.Errorf("got %q, want %q", plain, payload)
	}
}

func TestDecodeFrameGCMWrongKey(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	wrongKey := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x17}, 32))

	env := &FrameEnvelope{Encrypt: 2, Data: sealGen2(t, key, []byte(`{}`))}
	if _, err := DecodeFrame(wrongKey, env); !errors.Is(err, ErrDecryption) {
		t.Errorf("got %v, want ErrDecryption", err)
	}
}

func TestDecodeFrameGCMTooShort(t *testing.T) {
	env := &FrameEnvelope{Encrypt: 2, Data: base64.StdEncoding.EncodeToString(make([]byte, 40))}
	if _, err := DecodeFrame(base64.StdEncoding.EncodeToString(make([]byte, 32)), env); !errors.Is(err, ErrDecryption) {
		t.Errorf("got %v, want ErrDecryption", err)
	}
}

func TestDecodeFrameUnknownGeneration(t *testing.T) {
	if _, err := DecodeFrame("", &FrameEnvelope{Encrypt: 7}); !errors.Is(err, ErrDecryption) {
		t.Errorf("got %v, want ErrDecryption", err)
	}
}
