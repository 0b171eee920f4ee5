package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Status is the lifecycle state of a Recognizer
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

var (
	// ErrBusy is returned by Run while another job is running
	ErrBusy = errors.New("recognition already running")
	// ErrCanceled marks a job abandoned through Cancel
	ErrCanceled = errors.New("recognition canceled")
)

// Snapshot is a point-in-time copy of the recognizer state
type Snapshot struct {
	Status   Status
	Progress float64
	Text     string
	Err      error
}

// Recognizer runs at most one receipt recognition job at a time and tracks
// its progress. Every job is tagged with an epoch; a job whose epoch is no
// longer current can never write its progress or result back.
type Recognizer struct {
	engine   Engine
	language string

	mu        sync.Mutex
	epoch     uint64
	state     Snapshot
	cancel    context.CancelFunc
	listeners []func(Snapshot)
}

// NewRecognizer creates a Recognizer for the default language
func NewRecognizer(engine Engine) *Recognizer {
	return NewRecognizerWithLanguage(engine, DefaultLanguage)
}

// NewRecognizerWithLanguage creates a Recognizer for the given language code
func NewRecognizerWithLanguage(engine Engine, language string) *Recognizer {
	if language == "" {
		language = DefaultLanguage
	}
	return &Recognizer{
		engine:   engine,
		language: language,
		state:    Snapshot{Status: StatusIdle},
	}
}

// OnChange registers a listener called after every state change
func (r *Recognizer) OnChange(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Run recognizes one receipt image and blocks until the job finishes, fails
// or is canceled. It returns ErrBusy if a job is already running and
// ErrCanceled if the job was canceled, in which case it returns without
// waiting for the engine.
func (r *Recognizer) Run(ctx context.Context, data []byte, contentType string) (string, error) {
	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return "", ErrBusy
	}
	r.epoch++
	epoch := r.epoch
	jobCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.state = Snapshot{Status: StatusRunning}
	r.notifyLocked()
	r.mu.Unlock()

	slog.Debug("Starting receipt recognition", "language", r.language, "bytes", len(data))

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := r.engine.Recognize(jobCtx, data, contentType, r.language, func(p float64) {
			r.progress(epoch, p)
		})
		done <- outcome{text: text, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil || jobCtx.Err() == nil {
			return r.finish(epoch, out.text, out.err)
		}
	case <-jobCtx.Done():
	}

	r.abort(epoch, fmt.Errorf("%w: %w", ErrCanceled, context.Cause(jobCtx)))
	return "", ErrCanceled
}

func (r *Recognizer) progress(epoch uint64, p float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch || r.state.Status != StatusRunning {
		return
	}
	if p = clamp(p); p > r.state.Progress {
		r.state.Progress = p
		r.notifyLocked()
	}
}

func (r *Recognizer) finish(epoch uint64, text string, err error) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch || r.state.Status != StatusRunning {
		return "", ErrCanceled
	}
	r.cancel()
	r.cancel = nil

	if err != nil {
		slog.Warn("Receipt recognition failed", "error", err)
		r.state = Snapshot{Status: StatusError, Progress: r.state.Progress, Err: err}
		r.notifyLocked()
		return "", fmt.Errorf("recognizing receipt: %w", err)
	}

	r.state = Snapshot{Status: StatusDone, Progress: 1, Text: text}
	r.notifyLocked()
	return text, nil
}

// abort moves a running job of the given epoch to the error state
func (r *Recognizer) abort(epoch uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch == r.epoch {
		r.abortLocked(err)
	}
}

func (r *Recognizer) abortLocked(err error) bool {
	if r.state.Status != StatusRunning {
		return false
	}
	r.epoch++
	r.cancel()
	r.cancel = nil
	r.state = Snapshot{Status: StatusError, Progress: r.state.Progress, Err: err}
	r.notifyLocked()
	return true
}

// Cancel abandons the running job, if any, and reports whether there was
// one. The recognizer ends in the error state with ErrCanceled.
func (r *Recognizer) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortLocked(ErrCanceled)
}

// Reset returns the recognizer to idle, abandoning a running job first
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status == StatusRunning {
		r.cancel()
		r.cancel = nil
	}
	r.epoch++
	r.state = Snapshot{Status: StatusIdle}
	r.notifyLocked()
}

// Snapshot returns the current state
func (r *Recognizer) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// notifyLocked runs listeners with the lock held so that they observe state
// changes in order. Listeners must not call back into the Recognizer.
func (r *Recognizer) notifyLocked() {
	for _, fn := range r.listeners {
		fn(r.state)
	}
}
