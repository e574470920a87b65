package events

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ValidationStartedName is the event emitted before an item is validated.
const ValidationStartedName = "onModelValidationStarted"

const progressPrefix = "download-"

// ProgressName returns the event name progress for taskID is emitted under.
func ProgressName(taskID string) string {
	return progressPrefix + taskID
}

// Kind classifies an event name.
type Kind string

const (
	KindProgress          Kind = "progress"
	KindValidationStarted Kind = "validation_started"
	KindOther             Kind = "other"
)

// DownloadEvent is a point-in-time snapshot of a task's aggregate progress.
// Consumers must treat each one as a full snapshot, not a delta.
type DownloadEvent struct {
	Transferred uint64 `json:"transferred"`
	Total       uint64 `json:"total"`
}

// ValidationStarted is emitted before a downloaded file is checked.
type ValidationStarted struct {
	ModelID      string `json:"modelId"`
	DownloadType string `json:"downloadType"`
}

// Emitter is the outbound sink for lifecycle and progress notifications.
type Emitter interface {
	Emit(name string, payload any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(name string, payload any)

func (f EmitterFunc) Emit(name string, payload any) { f(name, payload) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(string, any) {})

// Envelope is the structured form of an emitted event.
type Envelope struct {
	TaskID  string `json:"task_id,omitempty"`
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// Wrap classifies name and builds its envelope.
func Wrap(name string, payload any) Envelope {
	env := Envelope{Kind: KindOther, Name: name, Payload: payload}
	switch {
	case name == ValidationStartedName:
		env.Kind = KindValidationStarted
	case strings.HasPrefix(name, progressPrefix):
		env.Kind = KindProgress
		env.TaskID = strings.TrimPrefix(name, progressPrefix)
	}
	return env
}

// ChannelEmitter delivers envelopes on a buffered channel. An intermediate
// progress snapshot is dropped when the buffer is full since the next one
// supersedes it; every other event, including the snapshot that reports the
// task complete, waits for room. Consumers must drain Events until Close.
type ChannelEmitter struct {
	ch      chan Envelope
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func NewChannelEmitter(buffer int) *ChannelEmitter {
	return &ChannelEmitter{ch: make(chan Envelope, buffer)}
}

func (c *ChannelEmitter) Emit(name string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	env := Wrap(name, payload)
	if !droppable(env) {
		c.ch <- env
		return
	}
	select {
	case c.ch <- env:
	default:
		c.dropped++
	}
}

// droppable reports whether env is a progress snapshot that a later one
// will supersede.
func droppable(env Envelope) bool {
	if env.Kind != KindProgress {
		return false
	}
	ev, ok := env.Payload.(DownloadEvent)
	if !ok {
		return true
	}
	return ev.Total == 0 || ev.Transferred < ev.Total
}

// Events returns the receive side of the channel.
func (c *ChannelEmitter) Events() <-chan Envelope {
	return c.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (c *ChannelEmitter) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close closes the channel; later Emit calls are no-ops.
func (c *ChannelEmitter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *Recorder) Emit(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Wrap(name, payload))
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.events))
	copy(out, r.events)
	return out
}

// Progress returns the recorded progress snapshots in emission order.
func (r *Recorder) Progress() []DownloadEvent {
	var out []DownloadEvent
	for _, e := range r.Events() {
		if ev, ok := e.Payload.(DownloadEvent); ok && e.Kind == KindProgress {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the last progress snapshot.
func (r *Recorder) Last() (DownloadEvent, bool) {
	p := r.Progress()
	if len(p) == 0 {
		return DownloadEvent{}, false
	}
	return p[len(p)-1], true
}

// JSONEmitter writes one JSON envelope per line.
type JSONEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{enc: json.NewEncoder(w)}
}

func (j *JSONEmitter) Emit(name string, payload any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(Wrap(name, payload)); err != nil && j.err == nil {
		j.err = fmt.Errorf("encode event %s: %w", name, err)
	}
}

// Err returns the first write failure, if any.
func (j *JSONEmitter) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Multi fans an event out to several emitters.
func Multi(emitters ...Emitter) Emitter {
	return EmitterFunc(func(name string, payload any) {
		for _, e := range emitters {
			if e != nil {
				e.Emit(name, payload)
			}
		}
	})
}
