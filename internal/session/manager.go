// Package session owns the protocol session: connecting, reconnecting after
// transient drops, stopping for good on logout, and persisting credential
// changes before any further traffic.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/statuskeeper/internal/types"
)

var (
	ErrLoggedOut      = errors.New("session logged out")
	ErrReconnectLimit = errors.New("reconnect limit reached")
	ErrNotConnected   = errors.New("session not connected")
	// ErrFetchInterrupted is returned by FetchMedia when the connection was
	// torn down or its credentials replaced mid-fetch. A later attempt may
	// succeed.
	ErrFetchInterrupted = errors.New("media fetch interrupted")
)

// Config tunes the reconnect loop.
type Config struct {
	// MaxReconnects caps the total number of reconnects; 0 means unlimited.
	MaxReconnects int
	// DialRetryDelay is the wait after a failed dial.
	DialRetryDelay time.Duration
}

// Handlers receive the session's inbound traffic. Nil handlers are skipped.
// They run on the signal loop and must not block for long.
type Handlers struct {
	OnLive     func(ctx context.Context, ev *types.InboundEvent)
	OnHistory  func(ctx context.Context, events []*types.InboundEvent)
	OnContacts func(contacts []types.Contact)
	OnQR       func(code string)
}

// Manager drives one session at a time through
// connecting -> open -> closed-reconnecting -> connecting until logout.
type Manager struct {
	transport types.Transport
	auth      types.AuthStore
	cfg       Config
	handlers  Handlers
	sleep     func(context.Context, time.Duration) error

	// gate is held for writing while credentials are saved. Media fetches
	// hold it for reading so none can be issued on unsaved credentials.
	// Writers cancel inflight first so a stalled fetch cannot delay them.
	gate sync.RWMutex

	mu        sync.Mutex
	state     types.ConnState
	conn      types.Conn
	inflight  context.Context
	interrupt context.CancelFunc
	connects  int
	last      types.Transition
	subs      []chan types.Transition
}

func New(transport types.Transport, auth types.AuthStore, cfg Config, handlers Handlers) *Manager {
	m := &Manager{
		transport: transport,
		auth:      auth,
		cfg:       cfg,
		handlers:  handlers,
		sleep:     sleepCtx,
		state:     types.StateClosedReconnecting,
	}
	m.inflight, m.interrupt = context.WithCancel(context.Background())
	return m
}

// closeInfo describes how one connection ended.
type closeInfo struct {
	reason    string
	loggedOut bool
}

// Run connects and keeps the session alive until ctx ends, the account is
// logged out (ErrLoggedOut) or the reconnect cap is exceeded
// (ErrReconnectLimit).
func (m *Manager) Run(ctx context.Context) error {
	defer m.closeSubscribers()

	reason := "start"
	reconnects := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.transition(types.StateConnecting, reason)

		creds, err := m.auth.Load(ctx)
		if err != nil {
			m.transition(types.StateClosedTerminal, "load credentials failed")
			return fmt.Errorf("load credentials: %w", err)
		}

		m.mu.Lock()
		m.connects++
		m.mu.Unlock()

		conn, err := m.transport.Connect(ctx, creds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reason = "dial failed"
			slog.Warn("session dial failed", "error", err)
			m.transition(types.StateClosedReconnecting, reason)
			if reconnects, err = m.countReconnect(reconnects); err != nil {
				return err
			}
			if err := m.sleep(ctx, m.cfg.DialRetryDelay); err != nil {
				return err
			}
			continue
		}

		m.gate.Lock()
		m.mu.Lock()
		m.conn = conn
		m.resetInflight()
		m.mu.Unlock()
		m.gate.Unlock()

		info := m.serve(ctx, conn)

		// Close before taking the gate: fetches on this connection must
		// fail now rather than at their own timeout.
		m.interruptFetches()
		if err := conn.Close(); err != nil {
			slog.Debug("session close", "error", err)
		}
		m.gate.Lock()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		m.gate.Unlock()

		if ctx.Err() != nil {
			m.transition(types.StateClosedReconnecting, "shutdown")
			return ctx.Err()
		}
		if info.loggedOut {
			m.transition(types.StateClosedTerminal, info.reason)
			return ErrLoggedOut
		}

		reason = info.reason
		m.transition(types.StateClosedReconnecting, reason)
		if reconnects, err = m.countReconnect(reconnects); err != nil {
			return err
		}
	}
}

func (m *Manager) countReconnect(n int) (int, error) {
	n++
	if m.cfg.MaxReconnects > 0 && n > m.cfg.MaxReconnects {
		m.transition(types.StateClosedTerminal, "reconnect limit reached")
		return n, fmt.Errorf("%w after %d reconnects", ErrReconnectLimit, m.cfg.MaxReconnects)
	}
	return n, nil
}

// serve handles the signals of one connection until it ends.
func (m *Manager) serve(ctx context.Context, conn types.Conn) closeInfo {
	signals := conn.Signals()
	for {
		select {
		case <-ctx.Done():
			return closeInfo{reason: "shutdown"}
		case sig, ok := <-signals:
			if !ok {
				return closeInfo{reason: "connection lost"}
			}
			switch s := sig.(type) {
			case types.Opened:
				m.transition(types.StateOpen, "")
			case types.Closed:
				return closeInfo{reason: s.Reason, loggedOut: s.LoggedOut}
			case types.CredentialsChanged:
				if err := m.saveCredentials(ctx, s.Blob); err != nil {
					slog.Error("credential save failed, dropping connection", "error", err)
					return closeInfo{reason: "credential save failed"}
				}
			case types.QRChallenge:
				slog.Info("pairing challenge received")
				if m.handlers.OnQR != nil {
					m.handlers.OnQR(s.Code)
				}
			case types.LiveMessage:
				if m.handlers.OnLive != nil && s.Event != nil {
					m.handlers.OnLive(ctx, s.Event)
				}
			case types.HistoryReplay:
				slog.Info("history replay received", "events", len(s.Events))
				if m.handlers.OnHistory != nil {
					m.handlers.OnHistory(ctx, s.Events)
				}
			case types.ContactsUpsert:
				if m.handlers.OnContacts != nil {
					m.handlers.OnContacts(s.Contacts)
				}
			default:
				slog.Debug("unhandled session signal", "type", fmt.Sprintf("%T", sig))
			}
		}
	}
}

func (m *Manager) saveCredentials(ctx context.Context, blob []byte) error {
	m.interruptFetches()
	m.gate.Lock()
	defer m.gate.Unlock()
	defer func() {
		m.mu.Lock()
		m.resetInflight()
		m.mu.Unlock()
	}()
	if err := m.auth.Save(ctx, blob); err != nil {
		return err
	}
	slog.Debug("credentials saved", "bytes", len(blob))
	return nil
}

// FetchMedia downloads a payload over the current connection. It waits for
// a pending credential save to finish first, and returns
// ErrFetchInterrupted if the connection drops or credentials change while
// the download is running.
func (m *Manager) FetchMedia(ctx context.Context, ref json.RawMessage, kind types.Kind) ([]byte, error) {
	m.gate.RLock()
	defer m.gate.RUnlock()

	m.mu.Lock()
	conn, scope := m.conn, m.inflight
	m.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(scope, cancel)
	defer stop()

	data, err := conn.FetchMedia(fctx, ref, kind)
	if err != nil && scope.Err() != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchInterrupted, err)
	}
	return data, err
}

// interruptFetches cancels every fetch running on the current connection.
func (m *Manager) interruptFetches() {
	m.mu.Lock()
	if m.interrupt != nil {
		m.interrupt()
	}
	m.mu.Unlock()
}

// resetInflight opens a fresh fetch scope. Callers hold m.mu.
func (m *Manager) resetInflight() {
	if m.interrupt != nil {
		m.interrupt()
	}
	m.inflight, m.interrupt = context.WithCancel(context.Background())
}

// State returns the current connection state.
func (m *Manager) State() types.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connects returns the number of connect attempts made so far.
func (m *Manager) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// LastTransition returns the most recent state change.
func (m *Manager) LastTransition() types.Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Subscribe returns a channel of state transitions. Slow subscribers miss
// transitions rather than stalling the session. The channel closes when Run
// returns.
func (m *Manager) Subscribe() <-chan types.Transition {
	ch := make(chan types.Transition, 32)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) transition(to types.ConnState, reason string) {
	m.mu.Lock()
	t := types.Transition{From: m.state, To: to, Reason: reason, At: time.Now()}
	m.state = to
	m.last = t
	subs := m.subs
	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
	m.mu.Unlock()

	attrs := []any{"from", string(t.From), "to", string(t.To)}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	switch to {
	case types.StateClosedTerminal:
		slog.Error("session state", attrs...)
	case types.StateClosedReconnecting:
		slog.Warn("session state", attrs...)
	default:
		slog.Info("session state", attrs...)
	}
}

func (m *Manager) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
