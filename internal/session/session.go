// ABOUTME: Gateway login session state machine: Idle, LoggingIn, Ready.
// ABOUTME: Deduplicates concurrent login attempts and detects credential rotation.

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/flowhook/discgate/internal/chat"
)

// State is the login lifecycle position.
type State int

const (
	// Idle means no session exists and no login is running.
	Idle State = iota
	// LoggingIn means exactly one login attempt is in flight.
	LoggingIn
	// Ready means a platform session is established.
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoggingIn:
		return "logging_in"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Verdict is the immediate answer to a login request.
type Verdict string

const (
	// VerdictMissing: token or client id absent; nothing attempted.
	VerdictMissing Verdict = "missing"
	// VerdictLogin: a login was started; the Result channel delivers the outcome.
	VerdictLogin Verdict = "login"
	// VerdictAlready: the session is Ready with the same credentials.
	VerdictAlready Verdict = "already"
	// VerdictDifferent: another login is already in flight; not interrupted.
	VerdictDifferent Verdict = "different"
	// VerdictReady: terminal success, delivered on the Result channel.
	VerdictReady Verdict = "ready"
	// VerdictError: terminal failure, delivered on the Result channel.
	VerdictError Verdict = "error"
)

// Manager owns the platform session. All login decisions funnel through
// RequestLogin; at most one login attempt is in flight at any time.
type Manager struct {
	client chat.Client
	logger *slog.Logger

	// onReady runs once after each successful login, outside the lock.
	onReady func(token, clientID string)

	mu       sync.Mutex
	state    State
	token    string
	clientID string
}

// NewManager creates a Manager driving the given chat client. onReady may be
// nil; when set it runs after every successful login (including re-login
// with rotated credentials).
func NewManager(client chat.Client, logger *slog.Logger, onReady func(token, clientID string)) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:  client,
		logger:  logger.With("component", "session"),
		onReady: onReady,
	}
}

// State reports the current lifecycle position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether a platform session is established.
func (m *Manager) Ready() bool {
	return m.State() == Ready
}

// ClientID returns the client id of the established session, empty before
// the first successful login.
func (m *Manager) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

// Token returns the token of the established session.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// RequestLogin decides what to do with one caller's credentials.
//
// The verdict is returned immediately. When it is VerdictLogin, the returned
// channel delivers exactly one terminal verdict (VerdictReady or
// VerdictError) once the asynchronous login settles; for every other verdict
// the channel is nil.
func (m *Manager) RequestLogin(ctx context.Context, token, clientID string) (Verdict, <-chan Verdict) {
	m.mu.Lock()

	m.logger.Debug("login requested", "state", m.state.String())

	switch {
	case m.state == LoggingIn:
		m.mu.Unlock()
		return VerdictDifferent, nil

	case m.state == Ready && m.token == token && m.clientID == clientID:
		m.mu.Unlock()
		return VerdictAlready, nil

	default:
		// Idle, or Ready with different credentials (rotation): run the
		// full login sequence.
		if token == "" || clientID == "" {
			m.mu.Unlock()
			return VerdictMissing, nil
		}

		m.state = LoggingIn
		m.mu.Unlock()

		result := make(chan Verdict, 1)
		go m.doLogin(ctx, token, clientID, result)
		return VerdictLogin, result
	}
}

func (m *Manager) doLogin(ctx context.Context, token, clientID string, result chan<- Verdict) {
	err := m.client.Login(ctx, token)

	m.mu.Lock()
	if err != nil {
		m.state = Idle
		m.mu.Unlock()
		m.logger.Error("login failed", "error", err)
		result <- VerdictError
		return
	}

	m.state = Ready
	m.token = token
	m.clientID = clientID
	onReady := m.onReady
	m.mu.Unlock()

	m.logger.Info("logged in", "client_id", clientID)

	if onReady != nil {
		onReady(token, clientID)
	}
	result <- VerdictReady
}
