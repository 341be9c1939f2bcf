// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sessions

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session   *QRSession
	expiresAt time.Time
}

// MemoryStore is an in-process Store with lazy expiry, suitable for tests and
// single-process embedding. Expired entries are dropped on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (ms *MemoryStore) Put(_ context.Context, id string, session *QRSession, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[id] = memoryEntry{session: session, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (ms *MemoryStore) Get(_ context.Context, id string) (*QRSession, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	entry, ok := ms.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(ms.entries, id)
		return nil, ErrNotFound
	}
	return entry.session, nil
}

func (ms *MemoryStore) Delete(_ context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.entries, id)
	return nil
}

func (ms *MemoryStore) Renew(_ context.Context, id string, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	entry, ok := ms.entries[id]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(ms.entries, id)
		return ErrNotFound
	}
	entry.expiresAt = time.Now().Add(ttl)
	ms.entries[id] = entry
	return nil
}
