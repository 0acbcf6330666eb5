// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package workerfarm abstracts offloaded transformation work.
//
// A Farm hands out named handles whose arguments must be structurally
// serializable — the farm is the only component that escapes the main
// process, so it can only receive side-effect-free inputs (a config
// cache path, never a live config object). The in-process LocalFarm
// enforces serializability by round-tripping every call's arguments
// through deterministic CBOR and bounds concurrency with a weighted
// semaphore.
package workerfarm

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/remotezygote/parcel/lib/codec"
)

// Handle is an async callable obtained from a Farm.
type Handle interface {
	// Call invokes the named worker function. args must be
	// structurally serializable; the result is whatever the handler
	// returned.
	Call(ctx context.Context, args any) (any, error)
}

// Farm creates handles to named worker functions.
type Farm interface {
	CreateHandle(name string) (Handle, error)
}

// WorkerError wraps an exception raised inside the farm. It
// propagates as the request's result.
type WorkerError struct {
	Handle string
	Err    error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("workerfarm: %s: %v", e.Handle, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// HandlerFunc is a registered worker function. Arguments arrive as
// raw CBOR for the handler to decode into its own request type.
type HandlerFunc func(ctx context.Context, args codec.RawMessage) (any, error)

// LocalFarm runs worker functions in-process on a bounded pool. It
// preserves the farm contract — serializable arguments, independent
// failures — without a separate worker process.
type LocalFarm struct {
	slots *semaphore.Weighted

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewLocal creates a LocalFarm with the given concurrency. Zero or
// negative means GOMAXPROCS.
func NewLocal(workers int) *LocalFarm {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &LocalFarm{
		slots:    semaphore.NewWeighted(int64(workers)),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register installs a worker function under a name. Registering a
// duplicate name panics: handler wiring is a startup-time concern.
func (f *LocalFarm) Register(name string, handler HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.handlers[name]; exists {
		panic("workerfarm: duplicate handler " + name)
	}
	f.handlers[name] = handler
}

// CreateHandle returns a handle for the named worker function.
func (f *LocalFarm) CreateHandle(name string) (Handle, error) {
	f.mu.RLock()
	handler, ok := f.handlers[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workerfarm: no handler named %q", name)
	}
	return &localHandle{farm: f, name: name, handler: handler}, nil
}

type localHandle struct {
	farm    *LocalFarm
	name    string
	handler HandlerFunc
}

func (h *localHandle) Call(ctx context.Context, args any) (any, error) {
	// The serialization round-trip is the contract: anything that
	// cannot cross a process boundary fails here, in-process, the
	// same way it would fail against real workers.
	encoded, err := codec.Marshal(args)
	if err != nil {
		return nil, &WorkerError{Handle: h.name, Err: fmt.Errorf("arguments are not serializable: %w", err)}
	}

	if err := h.farm.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.farm.slots.Release(1)

	result, err := h.handler(ctx, codec.RawMessage(encoded))
	if err != nil {
		return nil, &WorkerError{Handle: h.name, Err: err}
	}
	return result, nil
}
