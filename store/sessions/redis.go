// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "zalo_qr_"

// RedisStore is a Store backed by Redis with native key expiry. This is the
// deployment-grade implementation: QR sessions survive process restarts and
// can be polled from any process sharing the Redis instance.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreURL connects to Redis using a redis:// URL.
func NewRedisStoreURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (rs *RedisStore) Put(ctx context.Context, id string, session *QRSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return rs.client.Set(ctx, redisKeyPrefix+id, data, ttl).Err()
}

func (rs *RedisStore) Get(ctx context.Context, id string) (*QRSession, error) {
	data, err := rs.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	var session QRSession
	if err = json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	return rs.client.Del(ctx, redisKeyPrefix+id).Err()
}

func (rs *RedisStore) Renew(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := rs.client.Expire(ctx, redisKeyPrefix+id, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
