// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wpachat/zalogo/types"
)

func testSession() *QRSession {
	return &QRSession{
		Cookies:   types.ParseCookieHeader("zpsid=abc"),
		Version:   "1.2.3",
		Code:      "qr-code-value",
		CreatedAt: time.Now(),
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	if err := ms.Put(ctx, "id1", testSession(), time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := ms.Get(ctx, "id1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != "qr-code-value" || got.Version != "1.2.3" {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.Cookies.Get("zpsid") != "abc" {
		t.Error("cookie snapshot lost")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	if err := ms.Put(ctx, "id1", testSession(), 30*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	if _, err := ms.Get(ctx, "id1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry: got %v, want ErrNotFound", err)
	}
	// The entry must be gone, not just hidden.
	if len(ms.entries) != 0 {
		t.Errorf("expired entry still stored: %d entries", len(ms.entries))
	}
}

func TestMemoryStoreRenew(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	if err := ms.Put(ctx, "id1", testSession(), 40*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := ms.Renew(ctx, "id1", time.Minute); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	if _, err := ms.Get(ctx, "id1"); err != nil {
		t.Errorf("renewed entry expired: %v", err)
	}
	if err := ms.Renew(ctx, "missing", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("renew missing: got %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	if err := ms.Put(ctx, "id1", testSession(), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := ms.Delete(ctx, "id1"); err != nil {
		t.Fatal(err)
	}
	if err := ms.Delete(ctx, "id1"); err != nil {
		t.Errorf("double delete should be a no-op, got %v", err)
	}
	if _, err := ms.Get(ctx, "id1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
