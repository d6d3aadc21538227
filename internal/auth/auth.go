// Package auth validates the configured authentication method and drives the
// browser through session establishment.
package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscreenshots/internal/config"
	"github.com/JakeFAU/webscreenshots/internal/retry"
)

// State is the position of a run in the authentication lifecycle.
type State int

// Lifecycle states. Per-request methods end in PerRequestArmed; session
// methods pass through SessionEstablishing.
const (
	Unconfigured State = iota
	MethodValidated
	PerRequestArmed
	SessionEstablishing
	SessionEstablished
	SessionFailed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case MethodValidated:
		return "method_validated"
	case PerRequestArmed:
		return "per_request_armed"
	case SessionEstablishing:
		return "session_establishing"
	case SessionEstablished:
		return "session_established"
	case SessionFailed:
		return "session_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNoMethod means authOptions is present but names no method.
	ErrNoMethod = errors.New("no authentication method has been configured")
	// ErrUnsupportedMethod means the method is not one of basic, token, cookie or form.
	ErrUnsupportedMethod = errors.New("unsupported authentication method")
	// ErrMissingFields means a method-specific required field is empty.
	ErrMissingFields = errors.New("missing authentication fields")
	// ErrRejected is recorded when the browser reports an unsuccessful attempt without an error.
	ErrRejected = errors.New("authentication was not accepted")
)

// Authenticator is the browser capability the manager drives.
type Authenticator interface {
	SetAuthentication(ctx context.Context, auth *config.AuthOptions) (bool, error)
}

// Manager runs the authentication lifecycle once per capture run.
type Manager struct {
	browser Authenticator
	retrier *retry.Retrier
	logger  *zap.Logger
	state   State
}

// NewManager wires a Manager to a browser and the shared retry policy.
func NewManager(browser Authenticator, retrier *retry.Retrier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retrier == nil {
		retrier = retry.New(retry.Policy{MaxAttempts: 1}, logger)
	}
	return &Manager{
		browser: browser,
		retrier: retrier,
		logger:  logger.Named("auth"),
		state:   Unconfigured,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return m.state
}

// Authenticate validates opts and then arms per-request credentials or
// establishes a session. Failures are reported through the returned bool and
// never abort the caller.
func (m *Manager) Authenticate(ctx context.Context, opts *config.AuthOptions) (State, bool) {
	m.state = Unconfigured
	if opts == nil {
		return m.state, false
	}

	if err := ValidateMethod(opts); err != nil {
		m.logger.Error("Invalid authentication configuration", zap.Error(err))
		return m.state, false
	}
	m.state = MethodValidated

	if opts.Method == config.AuthBasic || opts.Method == config.AuthToken {
		return m.arm(ctx, opts)
	}
	return m.establish(ctx, opts)
}

func (m *Manager) arm(ctx context.Context, opts *config.AuthOptions) (State, bool) {
	m.logger.Info("Authentication will happen on each page", zap.String("method", opts.Method))
	ok, err := m.browser.SetAuthentication(ctx, opts)
	if err != nil {
		m.logger.Error("Failed to arm per-request authentication", zap.String("method", opts.Method), zap.Error(err))
		return m.state, false
	}
	if !ok {
		m.logger.Error("Browser rejected per-request authentication", zap.String("method", opts.Method))
		return m.state, false
	}
	m.state = PerRequestArmed
	return m.state, true
}

func (m *Manager) establish(ctx context.Context, opts *config.AuthOptions) (State, bool) {
	m.state = SessionEstablishing
	m.logger.Info("Establishing authenticated session", zap.String("method", opts.Method))

	err := m.retrier.Run(ctx, "authenticate", func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			m.logger.Info("Retrying authentication",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", m.retrier.Policy().MaxAttempts),
			)
		}
		ok, err := m.browser.SetAuthentication(ctx, opts)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRejected
		}
		return nil
	})
	if err != nil {
		m.state = SessionFailed
		m.logger.Error("Failed to authenticate", zap.String("method", opts.Method), zap.Error(err))
		return m.state, false
	}

	m.state = SessionEstablished
	m.logger.Info("Authenticated session established", zap.String("method", opts.Method))
	return m.state, true
}

// ValidateMethod checks the method-specific fields without touching the network.
func ValidateMethod(opts *config.AuthOptions) error {
	if opts == nil || opts.Method == "" {
		return ErrNoMethod
	}
	switch opts.Method {
	case config.AuthBasic:
		if opts.Basic == nil || opts.Basic.Username == "" || opts.Basic.Password == "" {
			return fmt.Errorf("%w: basic auth requires 'username' and 'password'", ErrMissingFields)
		}
	case config.AuthToken:
		if opts.Token == nil || opts.Token.Header == "" || opts.Token.Value == "" {
			return fmt.Errorf("%w: token auth requires 'header' and 'value'", ErrMissingFields)
		}
	case config.AuthCookie:
		if opts.CookiesPath == "" {
			return fmt.Errorf("%w: cookie auth requires 'cookiesPath'", ErrMissingFields)
		}
	case config.AuthForm:
		f := opts.Form
		if f == nil || f.LoginURL == "" || len(f.Inputs) == 0 || f.Submit == "" {
			return fmt.Errorf("%w: form auth requires 'loginUrl', 'inputs' and 'submit'", ErrMissingFields)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, opts.Method)
	}
	return nil
}

// JudgeLogin decides a form login outcome. A success marker wins over an
// error marker, which wins over a changed URL. No signal is a failure.
func JudgeLogin(successFound, errorFound, urlChanged bool) bool {
	switch {
	case successFound:
		return true
	case errorFound:
		return false
	default:
		return urlChanged
	}
}
