// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// casScript atomically compares the version field packed into the stored
// value against the expected version, and replaces the value iff it
// matches. Values are stored as "<version>\x00<payload>" so a single GET
// round-trip suffices for NewCAS; the swap itself never needs a second
// network hop to re-check.
var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
local curVersion = "0"
if cur then
	local sep = string.find(cur, "\0")
	curVersion = string.sub(cur, 1, sep - 1)
end
if curVersion ~= ARGV[1] then
	return {0, cur or false}
end
local nextVersion = tostring(tonumber(ARGV[1]) + 1)
local packed = nextVersion .. "\0" .. ARGV[2]
redis.call("SET", KEYS[1], packed)
return {1, cur or false}
`)

// RedisStore is a Redis-backed Store using github.com/redis/go-redis/v9,
// a low-latency alternative to PGStore for deployments where the engine's
// KV traffic is the hot path. CAS uses a Lua script (casScript) rather than
// WATCH/MULTI so it works against Redis Cluster without client-side retry
// loops on MOVED errors.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func packVersioned(version int64, value []byte) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(version, 10))
	b.WriteByte(0)
	b.Write(value)
	return b.String()
}

func unpackVersioned(raw string) (version int64, value []byte, err error) {
	idx := strings.IndexByte(raw, 0)
	if idx < 0 {
		return 0, nil, fmt.Errorf("kvstore: malformed redis entry")
	}
	version, err = strconv.ParseInt(raw[:idx], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("kvstore: malformed redis version: %w", err)
	}
	return version, []byte(raw[idx+1:]), nil
}

func (s *RedisStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, string(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	_, value, err := unpackVersioned(raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	prevRaw, err := s.client.Get(ctx, string(key)).Result()
	var prevValue []byte
	var hadPrev bool
	version := int64(0)
	if err == nil {
		v, val, perr := unpackVersioned(prevRaw)
		if perr != nil {
			return nil, false, perr
		}
		version, prevValue, hadPrev = v, val, true
	} else if !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	if err := s.client.Set(ctx, string(key), packVersioned(version+1, value), 0).Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return prevValue, hadPrev, nil
}

func (s *RedisStore) NewCAS(ctx context.Context, key []byte) (Guard, error) {
	raw, err := s.client.Get(ctx, string(key)).Result()
	if errors.Is(err, redis.Nil) {
		return &redisGuard{store: s, key: string(key), seenVersion: 0, seenPresent: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	version, value, err := unpackVersioned(raw)
	if err != nil {
		return nil, err
	}
	return &redisGuard{store: s, key: string(key), seenVersion: version, seenValue: value, seenPresent: true}, nil
}

type redisGuard struct {
	store       *RedisStore
	key         string
	seenValue   []byte
	seenVersion int64
	seenPresent bool
}

func (g *redisGuard) Current() ([]byte, bool) {
	if !g.seenPresent {
		return nil, false
	}
	return g.seenValue, true
}

func (g *redisGuard) Swap(ctx context.Context, newValue []byte) (Guard, error) {
	res, err := casScript.Run(ctx, g.store.client, []string{g.key},
		strconv.FormatInt(g.seenVersion, 10), string(newValue)).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	ok, _ := res[0].(int64)
	if ok == 1 {
		return nil, nil
	}
	fresh, err := g.store.NewCAS(ctx, []byte(g.key))
	if err != nil {
		return nil, err
	}
	return fresh, ErrCASConflict
}
