// Package directory implements the session/host registry of the rendezvous
// core: session creation with human-readable codes, host registration with
// heartbeat refresh, pending connection request queues, and the attach/detach
// bookkeeping the signaling hub drives.
//
// The directory is the only writer of session and host records. The signaling
// hub mutates connection membership exclusively through AttachHost,
// AttachClient, DetachHost and DetachClient, so the status invariant
// (status == active iff a host connection is attached) holds by construction.
package directory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/castbridge/rendezvous/internal/metrics"
	"github.com/castbridge/rendezvous/internal/registry"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrHostNotFound    = errors.New("host not found")
	// ErrSourceNotFound covers both a source name that does not exist and one
	// that exists but is disabled; clients cannot distinguish the two.
	ErrSourceNotFound = errors.New("source not found or not enabled")
	ErrRequestNotFound = errors.New("connection request not found")
)

const codeGenAttempts = 5

type Config struct {
	// SessionTTL is a hard lifetime from creation, regardless of activity.
	SessionTTL time.Duration
	// HostTimeout is the heartbeat TTL; a host is available while
	// now - lastHeartbeat < HostTimeout.
	HostTimeout time.Duration
}

type Directory struct {
	cfg   Config
	clock clock.Clock
	log   *slog.Logger

	// mu guards all session/host field access. The stores' internal locks only
	// protect map structure; lock order is always mu before a store.
	mu       sync.Mutex
	sessions *registry.Store[string, *session]
	hosts    *registry.Store[string, *host]

	startedAt time.Time
}

func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Directory {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Directory{
		cfg:       cfg,
		clock:     clk,
		log:       logger,
		sessions:  registry.NewStore[string, *session](),
		hosts:     registry.NewStore[string, *host](),
		startedAt: clk.Now(),
	}
}

// CreateSession stores a new session in the waiting state and returns its
// code. Codes are regenerated on collision; expired codes are reusable once
// the sweep has purged them.
func (d *Directory) CreateSession(hostID, bridgeName string, sources []Source) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for attempt := 0; attempt < codeGenAttempts; attempt++ {
		code, err := newSessionCode()
		if err != nil {
			return "", err
		}
		if _, exists := d.sessions.Get(code); exists {
			continue
		}
		d.sessions.Put(code, &session{
			code:          code,
			hostID:        hostID,
			bridgeName:    bridgeName,
			sources:       append([]Source(nil), sources...),
			clientConnIDs: make(map[string]struct{}),
			status:        StatusWaiting,
			createdAt:     d.clock.Now(),
		})
		metrics.SessionsCreated.Inc()
		d.log.Info("session created", "code", code, "host_id", hostID, "bridge", bridgeName)
		return code, nil
	}
	return "", fmt.Errorf("failed to allocate unique session code")
}

// JoinSession returns a read-only snapshot; membership changes only via the
// signaling hub's register path.
func (d *Directory) JoinSession(code string) (SessionView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions.Get(code)
	if !ok {
		return SessionView{}, ErrSessionNotFound
	}
	return sess.view(), nil
}

// GetSession is an alias of JoinSession kept for the detail endpoint.
func (d *Directory) GetSession(code string) (SessionView, error) {
	return d.JoinSession(code)
}

// AttachHost records connID as the session's live host connection and flips
// the session to active. A previously attached host connection is displaced.
func (d *Directory) AttachHost(code, connID string) (SessionView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions.Get(code)
	if !ok {
		return SessionView{}, ErrSessionNotFound
	}
	sess.hostConnID = connID
	sess.status = StatusActive
	return sess.view(), nil
}

// AttachClient adds connID to the session's client set (idempotent).
func (d *Directory) AttachClient(code, connID string) (SessionView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions.Get(code)
	if !ok {
		return SessionView{}, ErrSessionNotFound
	}
	sess.clientConnIDs[connID] = struct{}{}
	return sess.view(), nil
}

// DetachHost clears the host reference if connID still owns it and reverts
// the session to waiting. Returns the client connection ids to notify and
// whether anything changed.
func (d *Directory) DetachHost(code, connID string) ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions.Get(code)
	if !ok || sess.hostConnID != connID {
		return nil, false
	}
	sess.hostConnID = ""
	sess.status = StatusWaiting
	return sess.clientIDs(), true
}

// DetachClient removes connID from the session's client set. Returns the host
// connection id (empty when none) and whether the client was a member.
func (d *Directory) DetachClient(code, connID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions.Get(code)
	if !ok {
		return "", false
	}
	if _, member := sess.clientConnIDs[connID]; !member {
		return "", false
	}
	delete(sess.clientConnIDs, connID)
	return sess.hostConnID, true
}

// Members returns the live connection ids attached to a session.
func (d *Directory) Members(code string) (Members, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions.Get(code)
	if !ok {
		return Members{}, ErrSessionNotFound
	}
	return Members{
		HostConnID:    sess.hostConnID,
		ClientConnIDs: sess.clientIDs(),
	}, nil
}

// SweepSessions removes sessions past their hard TTL.
func (d *Directory) SweepSessions(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := d.sessions.Sweep(now, func(s *session, now time.Time) bool {
		return now.Sub(s.createdAt) >= d.cfg.SessionTTL
	})
	if removed > 0 {
		metrics.Swept.WithLabelValues(metrics.SweepKindSessions).Add(float64(removed))
	}
	return removed
}

func (sess *session) view() SessionView {
	return SessionView{
		Code:          sess.code,
		HostID:        sess.hostID,
		BridgeName:    sess.bridgeName,
		Sources:       append([]Source(nil), sess.sources...),
		Status:        sess.status,
		CreatedAt:     sess.createdAt,
		HostConnID:    sess.hostConnID,
		ClientConnIDs: sess.clientIDs(),
	}
}

func (sess *session) clientIDs() []string {
	out := make([]string, 0, len(sess.clientConnIDs))
	for id := range sess.clientConnIDs {
		out = append(out, id)
	}
	return out
}

func newClientID() string {
	return uuid.NewString()
}
