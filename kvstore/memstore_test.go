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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore_GetSetRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, ok, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)

	prev, hadPrev, err := s.Set(ctx, []byte("k"), []byte("v1"))
	require.NoError(t, err)
	require.False(t, hadPrev)
	require.Nil(t, prev)

	v, ok, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	prev, hadPrev, err = s.Set(ctx, []byte("k"), []byte("v2"))
	require.NoError(t, err)
	require.True(t, hadPrev)
	require.Equal(t, []byte("v1"), prev)
}

func TestMemStore_CASSucceedsOnUnchangedValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_, _, err := s.Set(ctx, []byte("k"), []byte("v1"))
	require.NoError(t, err)

	guard, err := s.NewCAS(ctx, []byte("k"))
	require.NoError(t, err)
	cur, ok := guard.Current()
	require.True(t, ok)
	require.Equal(t, []byte("v1"), cur)

	fresh, err := guard.Swap(ctx, []byte("v2"))
	require.NoError(t, err)
	require.Nil(t, fresh)

	v, _, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

func TestMemStore_CASConflictReturnsFreshGuard(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_, _, err := s.Set(ctx, []byte("k"), []byte("v1"))
	require.NoError(t, err)

	guardA, err := s.NewCAS(ctx, []byte("k"))
	require.NoError(t, err)
	guardB, err := s.NewCAS(ctx, []byte("k"))
	require.NoError(t, err)

	fresh, err := guardA.Swap(ctx, []byte("from-a"))
	require.NoError(t, err)
	require.Nil(t, fresh)

	fresh, err = guardB.Swap(ctx, []byte("from-b"))
	require.True(t, errors.Is(err, ErrCASConflict))
	require.NotNil(t, fresh)
	cur, ok := fresh.Current()
	require.True(t, ok)
	require.Equal(t, []byte("from-a"), cur)

	// retry with the fresh guard succeeds
	fresh2, err := fresh.Swap(ctx, []byte("from-b-retry"))
	require.NoError(t, err)
	require.Nil(t, fresh2)

	v, _, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("from-b-retry"), v)
}

func TestMemStore_CASOnAbsentKeyCreates(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	guard, err := s.NewCAS(ctx, []byte("new-key"))
	require.NoError(t, err)
	_, ok := guard.Current()
	require.False(t, ok)

	fresh, err := guard.Swap(ctx, []byte("created"))
	require.NoError(t, err)
	require.Nil(t, fresh)

	v, ok, err := s.Get(ctx, []byte("new-key"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("created"), v)
}
