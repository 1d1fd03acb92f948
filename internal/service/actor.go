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

// Package service is the Service Context: it builds the per-request
// bundle of backend-service handles exposed to handlers, each reached
// through an actor goroutine with a bounded mailbox. The dispatcher starts
// these actors for each request and closes them when the request ends, so
// an actor and its mailbox serve a single request. The shape
// mirrors the original implementation's services.rs (MinioClient,
// SqliteClient traits) and context.rs's Context, translated from Rust
// async traits to Go interfaces plus a mailbox-actor rather than an
// explicit runtime executor.
package service

import (
	"context"
	"time"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
)

// ObjectInfo describes one object returned from a List call.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	ContentType  string
}

// ObjectStore is the uniform capability interface handlers see for an
// object-store-shaped backend (e.g. MinIO/S3).
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// Row is one result row from a SQL query, keyed by column name.
type Row map[string]any

// SQL is the uniform capability interface handlers see for a relational
// backend.
type SQL interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Execute(ctx context.Context, query string, args ...any) (int64, error)
}

// actor is a single-writer mailbox over a backend of type T: commands are
// closures processed strictly in send order by one goroutine, giving the
// backend's connection pool an exclusive owner and giving the mailbox's
// bounded capacity natural backpressure (a full mailbox blocks the
// sender, per §4.F/§9).
type actor[T any] struct {
	backend T
	mailbox chan func(T)
}

func newActor[T any](backend T, mailboxSize int) *actor[T] {
	if mailboxSize <= 0 {
		mailboxSize = 32
	}
	a := &actor[T]{backend: backend, mailbox: make(chan func(T), mailboxSize)}
	go a.run()
	return a
}

func (a *actor[T]) run() {
	for cmd := range a.mailbox {
		cmd(a.backend)
	}
}

// send enqueues cmd, blocking until there's room or ctx is done. A
// service call inside a handler inherits the handler's cancellation: if
// ctx is cancelled before the command is even accepted, send never
// enqueues it.
func (a *actor[T]) send(ctx context.Context, cmd func(T)) error {
	select {
	case a.mailbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the actor's goroutine once the mailbox drains. Closing a
// channel with a live sender panics, so callers must ensure no further
// send is in flight.
func (a *actor[T]) close() {
	close(a.mailbox)
}

// ObjectStoreActor is an ObjectStore reached via its owning actor's
// mailbox rather than called directly, so its connection pool is never
// touched from more than one goroutine.
type ObjectStoreActor struct {
	actor *actor[ObjectStore]
}

// NewObjectStoreActor starts an actor goroutine owning backend.
func NewObjectStoreActor(backend ObjectStore, mailboxSize int) *ObjectStoreActor {
	return &ObjectStoreActor{actor: newActor(backend, mailboxSize)}
}

func (o *ObjectStoreActor) Close() { o.actor.close() }

func (o *ObjectStoreActor) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	reply := make(chan result, 1)
	if err := o.actor.send(ctx, func(b ObjectStore) {
		data, err := b.Get(ctx, bucket, key)
		reply <- result{data, err}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.data, r.err
	case <-ctx.Done():
		// The call inherits the handler's cancellation: drop the reply,
		// the actor goroutine still drains it into the buffered channel
		// and moves on to its next command.
		return nil, ctx.Err()
	}
}

func (o *ObjectStoreActor) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	reply := make(chan error, 1)
	if err := o.actor.send(ctx, func(b ObjectStore) {
		reply <- b.Put(ctx, bucket, key, data, contentType)
	}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *ObjectStoreActor) Delete(ctx context.Context, bucket, key string) error {
	reply := make(chan error, 1)
	if err := o.actor.send(ctx, func(b ObjectStore) {
		reply <- b.Delete(ctx, bucket, key)
	}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *ObjectStoreActor) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	type result struct {
		infos []ObjectInfo
		err   error
	}
	reply := make(chan result, 1)
	if err := o.actor.send(ctx, func(b ObjectStore) {
		infos, err := b.List(ctx, bucket, prefix)
		reply <- result{infos, err}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.infos, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SQLActor is a SQL backend reached via its owning actor's mailbox.
type SQLActor struct {
	actor *actor[SQL]
}

// NewSQLActor starts an actor goroutine owning backend.
func NewSQLActor(backend SQL, mailboxSize int) *SQLActor {
	return &SQLActor{actor: newActor(backend, mailboxSize)}
}

func (s *SQLActor) Close() { s.actor.close() }

func (s *SQLActor) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	type result struct {
		rows []Row
		err  error
	}
	reply := make(chan result, 1)
	if err := s.actor.send(ctx, func(b SQL) {
		rows, err := b.Query(ctx, query, args...)
		reply <- result{rows, err}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.rows, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SQLActor) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	type result struct {
		affected int64
		err      error
	}
	reply := make(chan result, 1)
	if err := s.actor.send(ctx, func(b SQL) {
		affected, err := b.Execute(ctx, query, args...)
		reply <- result{affected, err}
	}); err != nil {
		return 0, err
	}
	select {
	case r := <-reply:
		return r.affected, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Context is the per-request bundle of service handles exposed to a
// handler, per SPEC_FULL.md §4.F / §3. Either field may be nil when the
// deployment doesn't configure that service — ObjectStore/SQL then
// report ok=false rather than returning a handle that panics.
type Context struct {
	RequestID   string
	objectStore *ObjectStoreActor
	sql         *SQLActor
}

// NewContext builds a Context for one dispatch. Either actor may be nil.
func NewContext(requestID string, objectStore *ObjectStoreActor, sql *SQLActor) *Context {
	return &Context{RequestID: requestID, objectStore: objectStore, sql: sql}
}

// ObjectStore returns the configured object-store handle, or ok=false if
// this deployment has none.
func (c *Context) ObjectStore() (*ObjectStoreActor, bool) {
	if c.objectStore == nil {
		return nil, false
	}
	return c.objectStore, true
}

// SQL returns the configured SQL handle, or ok=false if this deployment
// has none.
func (c *Context) SQL() (*SQLActor, bool) {
	if c.sql == nil {
		return nil, false
	}
	return c.sql, true
}

// RequireObjectStore is the convenience a handler-facing binding layer
// uses to turn an absent service into the well-defined error the spec
// requires, rather than a nil-pointer crash.
func (c *Context) RequireObjectStore() (*ObjectStoreActor, error) {
	os, ok := c.ObjectStore()
	if !ok {
		return nil, gwerrors.ErrServiceNotConfigured
	}
	return os, nil
}

// RequireSQL mirrors RequireObjectStore for the SQL capability.
func (c *Context) RequireSQL() (*SQLActor, error) {
	s, ok := c.SQL()
	if !ok {
		return nil, gwerrors.ErrServiceNotConfigured
	}
	return s, nil
}
