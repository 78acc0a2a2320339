// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package nanoimage

import (
	"context"
	"sync"

	"github.com/matsujirushi/nanoimage/internal/log"
)

// DeviceEvent is an asynchronous notification arriving from the device
// outside the request/response shape of Transport.Send (e.g. an
// unsolicited capability change, a reboot notice, a flash-commit ack
// racing the upload goroutine).
type DeviceEvent struct {
	Kind    string
	Payload []byte
}

// DeviceEventHandler processes one DeviceEvent.
type DeviceEventHandler func(DeviceEvent)

// TaskTable dispatches device callbacks to registered handlers from a
// single worker goroutine guarded by one mutex: a WaitGroup-plus-buffered-
// channel worker pool narrowed to exactly one worker, since callback
// ordering must be preserved.
type TaskTable struct {
	mu       sync.Mutex
	handlers map[string][]DeviceEventHandler

	events chan DeviceEvent
	wg     sync.WaitGroup
	logger *log.Helper

	cancel context.CancelFunc
}

// NewTaskTable constructs a task table with the given inbound event
// buffer depth.
func NewTaskTable(bufferDepth int, logger *log.Helper) *TaskTable {
	if logger == nil {
		logger = log.NewNop()
	}
	return &TaskTable{
		handlers: make(map[string][]DeviceEventHandler),
		events:   make(chan DeviceEvent, bufferDepth),
		logger:   logger,
	}
}

// On registers handler to run for every event of the given kind.
func (t *TaskTable) On(kind string, handler DeviceEventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[kind] = append(t.handlers[kind], handler)
}

// Start launches the single dispatch goroutine. Calling Start twice
// without an intervening Stop is a programmer error.
func (t *TaskTable) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.run(ctx)
}

func (t *TaskTable) run(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.events:
			t.dispatch(ev)
		}
	}
}

func (t *TaskTable) dispatch(ev DeviceEvent) {
	t.mu.Lock()
	handlers := append([]DeviceEventHandler(nil), t.handlers[ev.Kind]...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Post enqueues an event for dispatch, blocking if the buffer is full.
// Callers on the upload goroutine use this instead of calling handlers
// directly so handler panics/slow paths never stall a Transport.Send.
func (t *TaskTable) Post(ev DeviceEvent) {
	t.events <- ev
}

// Stop cancels the dispatch goroutine and waits for it to exit.
func (t *TaskTable) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}
