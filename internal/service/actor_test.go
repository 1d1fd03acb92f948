// Copyright 2025 The Rivaas Authors
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

package service

import (
	"context"
	"sync"
	"testing"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	mu    sync.Mutex
	calls int
	data  map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{data: map[string][]byte{}}
}

func (f *fakeObjectStore) key(bucket, key string) string { return bucket + "/" + key }

func (f *fakeObjectStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.data[f.key(bucket, key)], nil
}

func (f *fakeObjectStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.data[f.key(bucket, key)] = data
	return nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, f.key(bucket, key))
	return nil
}

func (f *fakeObjectStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	return nil, nil
}

func TestObjectStoreActorPutThenGet(t *testing.T) {
	t.Parallel()
	backend := newFakeObjectStore()
	actor := NewObjectStoreActor(backend, 4)
	defer actor.Close()

	ctx := context.Background()
	require.NoError(t, actor.Put(ctx, "bucket", "key", []byte("hello"), "text/plain"))

	got, err := actor.Get(ctx, "bucket", "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestActorSerializesConcurrentCallers(t *testing.T) {
	t.Parallel()
	backend := newFakeObjectStore()
	actor := NewObjectStoreActor(backend, 8)
	defer actor.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = actor.Put(ctx, "b", "k", []byte("x"), "")
		}()
	}
	wg.Wait()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 20, backend.calls, "every call must reach the single-writer backend exactly once")
}

func TestActorSendRespectsCancellation(t *testing.T) {
	t.Parallel()
	backend := newFakeObjectStore()
	// A one-slot mailbox, a consumer blocked on its first command and an
	// already-cancelled ctx: whether send refuses the command or accepts it
	// and then waits for a reply that never comes, Get returns ctx's error.
	actor := NewObjectStoreActor(backend, 1)
	defer actor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	actor.actor.mailbox <- func(ObjectStore) { <-block }
	defer close(block)

	_, err := actor.Get(ctx, "b", "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContextServiceNotConfigured(t *testing.T) {
	t.Parallel()
	c := NewContext("req-1", nil, nil)

	_, ok := c.ObjectStore()
	assert.False(t, ok)

	_, err := c.RequireObjectStore()
	assert.ErrorIs(t, err, gwerrors.ErrServiceNotConfigured)

	_, err = c.RequireSQL()
	assert.ErrorIs(t, err, gwerrors.ErrServiceNotConfigured)
}

func TestContextServiceConfigured(t *testing.T) {
	t.Parallel()
	actor := NewObjectStoreActor(newFakeObjectStore(), 1)
	defer actor.Close()

	c := NewContext("req-1", actor, nil)
	got, err := c.RequireObjectStore()
	require.NoError(t, err)
	assert.Same(t, actor, got)
}
