package vault

import (
	"sync"
	"time"
)

// pendingEvent tracks a note's latest event plus the first operation seen in
// the current window, which drives coalescing.
type pendingEvent struct {
	event   NoteEvent
	firstOp Operation
}

// Debouncer coalesces rapid changes to the same note into one event per
// debounce window and emits them as batches. Coalescing rules:
//
//	create + modify = create
//	create + delete = nothing
//	modify + delete = delete
//	delete + create = modify
type Debouncer struct {
	window time.Duration
	out    chan<- []NoteEvent

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer that writes batches to out.
func NewDebouncer(window time.Duration, out chan<- []NoteEvent) *Debouncer {
	return &Debouncer{
		window:  window,
		out:     out,
		pending: make(map[string]*pendingEvent),
	}
}

// Add records an event, coalescing with any pending event for the same path.
func (d *Debouncer) Add(event NoteEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	existing, ok := d.pending[event.Path]
	if !ok {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Op}
		d.scheduleFlush()
		return
	}

	switch {
	case existing.firstOp == OpCreate && event.Op == OpDelete:
		// Created and deleted within the window: nothing happened.
		delete(d.pending, event.Path)
	case existing.firstOp == OpCreate:
		existing.event.Op = OpCreate
	case existing.firstOp == OpDelete && event.Op == OpCreate:
		// Deleted and recreated: treat as a modify.
		existing.event.Op = OpModify
		existing.firstOp = OpModify
	default:
		existing.event.Op = event.Op
	}
}

// Flush emits all pending events immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	batch := d.drainLocked()
	d.mu.Unlock()
	d.emit(batch)
}

// Stop flushes pending events and prevents further additions.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	batch := d.drainLocked()
	d.mu.Unlock()
	d.emit(batch)
}

func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		d.timer = nil
		batch := d.drainLocked()
		d.mu.Unlock()
		d.emit(batch)
	})
}

func (d *Debouncer) drainLocked() []NoteEvent {
	if len(d.pending) == 0 {
		return nil
	}
	batch := make([]NoteEvent, 0, len(d.pending))
	for _, p := range d.pending {
		batch = append(batch, p.event)
	}
	d.pending = make(map[string]*pendingEvent)
	return batch
}

func (d *Debouncer) emit(batch []NoteEvent) {
	if len(batch) == 0 {
		return
	}
	// Non-blocking send; a slow consumer drops the batch rather than
	// stalling the watcher.
	select {
	case d.out <- batch:
	default:
	}
}
