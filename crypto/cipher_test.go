// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package crypto

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
)

func testSecretKey() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
}

func TestEncodeDecodeAESRoundTrip(t *testing.T) {
	key := testSecretKey()
	plaintext := `{"message":"xin chào","client_id":1746758119000,"ttl":0}`

	encoded, err := EncodeAES(key, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if encoded == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}

	decoded, err := DecodeAES(key, encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != plaintext {
		t.Errorf("round trip: got %q, want %q", decoded, plaintext)
	}
}

func TestDecodeAESURLEscaped(t *testing.T) {
	key := testSecretKey()
	encoded, err := EncodeAES(key, "payload with + and =")
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := DecodeAES(key, url.QueryEscape(encoded))
	if err != nil {
		t.Fatal(err)
	}
	if decoded != "payload with + and =" {
		t.Errorf("got %q", decoded)
	}
}

func TestDecodeAESPlusInCiphertext(t *testing.T) {
	// '+' is part of the base64 alphabet and must survive the URL-unescape
	// step untouched.
	key := testSecretKey()
	found := false
	for i := 0; i < 256; i++ {
		plaintext := fmt.Sprintf(`{"message":"payload %d","client_id":%d}`, i, 1746758119000+i)
		encoded, err := EncodeAES(key, plaintext)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(encoded, "+") {
			continue
		}
		found = true
		decoded, err := DecodeAES(key, encoded)
		if err != nil {
			t.Fatalf("ciphertext %q: %v", encoded, err)
		}
		if decoded != plaintext {
			t.Fatalf("ciphertext %q: got %q, want %q", encoded, decoded, plaintext)
		}
	}
	if !found {
		t.Fatal("no ciphertext with '+' produced, test is vacuous")
	}
}

func TestDecodeAESBadKey(t *testing.T) {
	_, err := DecodeAES("not base64!!!", "aGVsbG8=")
	if !errors.Is(err, ErrBadKey) {
		t.Errorf("got %v, want ErrBadKey", err)
	}
}

func TestDecodeAESWrongKey(t *testing.T) {
	encoded, err := EncodeAES(testSecretKey(), "secret payload")
	if err != nil {
		t.Fatal(err)
	}
	otherKey := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x17}, 32))
	decoded, err := DecodeAES(otherKey, encoded)
	// CBC has no integrity check, so a wrong key yields either a padding
	// error or garbage, but never the plaintext.
	if err == nil && decoded == "secret payload" {
		t.Error("wrong key decrypted to the original plaintext")
	}
}

func TestSignKeyOrderIndependent(t *testing.T) {
	a := SignKey("message", map[string]string{"params": "abc", "nretry": "0", "zpw_ver": "655"})
	b := SignKey("message", map[string]string{"zpw_ver": "655", "nretry": "0", "params": "abc"})
	if a != b {
		t.Errorf("signature depends on insertion order: %s != %s", a, b)
	}
}

func TestSignKeyValueSensitive(t *testing.T) {
	a := SignKey("message", map[string]string{"params": "abc"})
	b := SignKey("message", map[string]string{"params": "abd"})
	c := SignKey("friend", map[string]string{"params": "abc"})
	if a == b {
		t.Error("signature ignores parameter values")
	}
	if a == c {
		t.Error("signature ignores request type")
	}
}

func TestSignKeyKnownValue(t *testing.T) {
	got := SignKey("getlogininfo", map[string]string{"b": "2", "a": "1"})
	sum := md5.Sum([]byte("zsecuregetlogininfo12"))
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestLoginResponseRoundTrip(t *testing.T) {
	rawKey := "0123456789ABCDEF0123456789ABCDEF"
	payload := `{"data":{"uid":"278914040","zpw_enk":"key"}}`

	blob, err := EncodeLoginResponse(rawKey, payload)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeLoginResponse(rawKey, blob)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != payload {
		t.Errorf("round trip: got %q", decoded)
	}
}
