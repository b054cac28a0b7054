// Package loginform implements the email login form: its state, the single
// request a submission makes, and the HTML it renders.
package loginform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"email-login/delivery/model"
)

// Messages shown in the result region that do not come from the server.
const (
	MessageNetwork     = "Network error, please try again"
	MessageBadResponse = "Unexpected response from server"
)

var (
	// ErrInFlight is returned by Submit while a previous submission is
	// still waiting for its response.
	ErrInFlight = errors.New("login request already in flight")
	// ErrNetwork wraps transport failures where no response was received.
	ErrNetwork = errors.New("network error")
	// ErrClosed is returned once the form has been closed.
	ErrClosed = errors.New("login form closed")
)

// Kind classifies the result message.
type Kind string

const (
	KindNone    Kind = ""
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Phase is the position of the form in its submission cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidationError
	PhaseSubmitting
	PhaseSuccess
	PhaseFailure
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidationError:
		return "validation_error"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSuccess:
		return "success"
	case PhaseFailure:
		return "failure"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a snapshot of what the form shows.
type State struct {
	Email         string
	Submitting    bool
	ResultMessage string
	ResultKind    Kind
}

// Form is one mounted login form. It is safe for concurrent use: Submit may
// block in one goroutine while others read State or Render.
type Form struct {
	transport Transport
	logger    *zap.Logger
	action    string

	mu     sync.Mutex
	state  State
	phase  Phase
	cancel context.CancelFunc
	closed bool
}

type Option func(*Form)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Form) { f.logger = logger }
}

// WithAction sets the URL the rendered <form> posts back to.
func WithAction(action string) Option {
	return func(f *Form) { f.action = action }
}

// New mounts an empty form that submits through transport.
func New(transport Transport, opts ...Option) *Form {
	f := &Form{
		transport: transport,
		logger:    zap.NewNop(),
		action:    "/",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnEmailChange stores value as the email. Editing a form that shows a
// result returns it to idle.
func (f *Form) OnEmailChange(value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.Email = value
	if f.state.Submitting {
		return
	}
	switch f.phase {
	case PhaseValidationError, PhaseSuccess, PhaseFailure:
		f.state.ResultMessage = ""
		f.state.ResultKind = KindNone
		f.phase = PhaseIdle
	}
}

// Submit runs one submission cycle and blocks until it resolves. Validation
// errors and rejected logins are reported through State, not the returned
// error. The error is non-nil only for ErrInFlight, ErrClosed, or a wrapped
// ErrNetwork.
func (f *Form) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.state.Submitting {
		f.mu.Unlock()
		return ErrInFlight
	}

	email := f.state.Email
	if strings.TrimSpace(email) == "" {
		f.state.ResultKind = KindError
		f.state.ResultMessage = model.MessageEmptyEmail
		f.phase = PhaseValidationError
		f.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.cancel = cancel
	f.state.Submitting = true
	f.state.ResultMessage = ""
	f.state.ResultKind = KindNone
	f.phase = PhaseSubmitting
	f.mu.Unlock()

	resp, err := f.transport.Do(ctx, model.LoginRequest{Email: email})

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancel = nil

	if f.closed {
		f.logger.Debug("dropping login response for closed form")
		return ErrClosed
	}
	f.state.Submitting = false

	if err != nil {
		f.logger.Warn("login request failed", zap.Error(err))
		f.fail(MessageNetwork)
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	var payload model.LoginResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		f.logger.Warn("undecodable login response",
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
		f.fail(MessageBadResponse)
		return nil
	}

	if !resp.OK() {
		f.fail(payload.Message)
		return nil
	}

	f.state.ResultKind = KindSuccess
	f.state.ResultMessage = payload.Message
	f.state.Email = ""
	f.phase = PhaseSuccess
	return nil
}

func (f *Form) fail(message string) {
	f.state.ResultKind = KindError
	f.state.ResultMessage = message
	f.phase = PhaseFailure
}

func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Form) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Close unmounts the form. An in-flight request is cancelled and its
// response, if it still arrives, is ignored.
func (f *Form) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
	}
}
