// Package signal implements the signaling relay: a WebSocket hub that routes
// connection-negotiation messages between the host and clients of a session.
//
// Topology is a star: a host broadcast reaches every registered client in its
// session, a client broadcast reaches the session's host only, and clients
// never signal each other directly. Delivery is best-effort, at most once per
// send; a missing target is a silent drop, not an error.
package signal

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/castbridge/rendezvous/internal/directory"
	"github.com/castbridge/rendezvous/internal/metrics"
)

type Config struct {
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	PingInterval         time.Duration
	IdleTimeout          time.Duration
	// AllowedOrigins restricts browser upgrades; empty allows every Origin.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = 50
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

type Hub struct {
	cfg Config
	log *slog.Logger
	dir *directory.Directory

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn
}

func NewHub(cfg Config, dir *directory.Directory, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Hub{
		cfg:   cfg.withDefaults(),
		log:   logger,
		dir:   dir,
		conns: make(map[string]*conn),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients send no Origin header.
		return true
	}
	origin = strings.ToLower(strings.TrimSuffix(origin, "/"))
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newConn(uuid.NewString(), ws)
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.SignalConnections.Inc()

	h.log.Info("signal connected", "conn_id", c.id, "remote_addr", r.RemoteAddr)
	defer h.log.Info("signal disconnected", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	ws.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
	})
	go h.keepalive(c)

	limiter := newMessageLimiter(h.cfg.MaxMessagesPerSecond)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))

		if !limiter.allow(time.Now()) {
			h.writeClose(c, websocket.ClosePolicyViolation, "rate limit exceeded")
			break
		}
		h.handleMessage(c, data)
	}

	h.disconnect(c)
}

func (h *Hub) keepalive(c *conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl is safe for concurrent use with WriteJSON.
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *Hub) writeClose(c *conn, code int, reason string) {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.close()
}

func (h *Hub) handleMessage(c *conn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.SignalMessages.WithLabelValues("malformed").Inc()
		h.sendEvent(c, errorEvent{Type: typeError, Message: "invalid message"})
		return
	}
	// Label only known types; anything else would let a peer mint unbounded
	// metric label values.
	switch {
	case env.Type == typePing, env.Type == typeRegister, relayable(env.Type):
		metrics.SignalMessages.WithLabelValues(string(env.Type)).Inc()
	default:
		metrics.SignalMessages.WithLabelValues("unknown").Inc()
	}

	switch {
	case env.Type == typePing:
		// Liveness probe, answered regardless of registration state.
		h.sendEvent(c, pongEvent{Type: typePong})
	case env.Type == typeRegister:
		h.handleRegister(c, env)
	case relayable(env.Type):
		h.handleRelay(c, env, data)
	default:
		// Forward compatibility: unknown types are ignored, not rejected.
		h.log.Debug("ignoring unknown signal message type", "type", env.Type, "conn_id", c.id)
	}
}

func (h *Hub) handleRegister(c *conn, env envelope) {
	// Registered is terminal until the transport closes. Allowing a second
	// register would overwrite role/sessionCode and strand the first session's
	// membership: its host reference would outlive the detach on disconnect.
	if c.role != roleUnset {
		h.sendEvent(c, errorEvent{Type: typeError, Message: "already registered"})
		return
	}
	if env.Code == "" {
		h.sendEvent(c, errorEvent{Type: typeError, Message: "missing session code"})
		return
	}

	switch role(env.Role) {
	case roleHost:
		view, err := h.dir.AttachHost(env.Code, c.id)
		if err != nil {
			h.sendEvent(c, errorEvent{Type: typeError, Message: "session not found"})
			return
		}
		c.role = roleHost
		c.sessionCode = env.Code
		h.sendEvent(c, registeredEvent{Type: typeRegistered, ID: c.id, Code: env.Code, Role: env.Role})
		for _, clientID := range view.ClientConnIDs {
			h.sendEventTo(clientID, hostPresenceEvent{Type: typeHostOnline, FromID: c.id})
		}
	case roleClient:
		view, err := h.dir.AttachClient(env.Code, c.id)
		if err != nil {
			h.sendEvent(c, errorEvent{Type: typeError, Message: "session not found"})
			return
		}
		c.role = roleClient
		c.sessionCode = env.Code
		h.sendEvent(c, registeredEvent{Type: typeRegistered, ID: c.id, Code: env.Code, Role: env.Role})
		if view.HostConnID != "" {
			h.sendEventTo(view.HostConnID, clientPresenceEvent{Type: typeClientJoined, ClientID: c.id})
		}
	default:
		h.sendEvent(c, errorEvent{Type: typeError, Message: "invalid role"})
	}
}

// handleRelay forwards a negotiation payload without interpreting it. fromId
// is stamped so the receiver can address replies; targetId is stripped.
func (h *Hub) handleRelay(c *conn, env envelope, data []byte) {
	if c.role == roleUnset {
		h.sendEvent(c, errorEvent{Type: typeError, Message: "not registered"})
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendEvent(c, errorEvent{Type: typeError, Message: "invalid message"})
		return
	}
	delete(payload, "targetId")
	payload["fromId"] = c.id
	raw, err := json.Marshal(payload)
	if err != nil {
		h.sendEvent(c, errorEvent{Type: typeError, Message: "invalid message"})
		return
	}

	// A present targetId delivers to exactly that connection, the sender
	// included; self-exclusion applies to broadcasts only.
	if env.TargetID != "" {
		h.sendRawTo(env.TargetID, raw)
		return
	}

	members, err := h.dir.Members(c.sessionCode)
	if err != nil {
		// Session expired under a live connection; nothing left to route to.
		h.log.Debug("relay for vanished session", "code", c.sessionCode, "conn_id", c.id)
		return
	}

	switch c.role {
	case roleHost:
		for _, clientID := range members.ClientConnIDs {
			if clientID != c.id {
				h.sendRawTo(clientID, raw)
			}
		}
	case roleClient:
		if members.HostConnID != "" && members.HostConnID != c.id {
			h.sendRawTo(members.HostConnID, raw)
		}
	}
}

// disconnect propagates transport teardown into the directory and notifies
// the surviving peers. Disconnects are a normal state transition, never an
// error.
func (h *Hub) disconnect(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.close()
	metrics.SignalConnections.Dec()

	if c.sessionCode == "" {
		return
	}
	switch c.role {
	case roleHost:
		clients, changed := h.dir.DetachHost(c.sessionCode, c.id)
		if changed {
			for _, clientID := range clients {
				h.sendEventTo(clientID, hostPresenceEvent{Type: typeHostOffline, FromID: c.id})
			}
		}
	case roleClient:
		hostConnID, changed := h.dir.DetachClient(c.sessionCode, c.id)
		if changed && hostConnID != "" {
			h.sendEventTo(hostConnID, clientPresenceEvent{Type: typeClientLeft, ClientID: c.id})
		}
	}
}

// NotifyPeerEndpoint fans a discovered public endpoint out to every session
// member except the peer it belongs to. Used by the discovery listener.
func (h *Hub) NotifyPeerEndpoint(sessionCode, peerID, publicIP string, publicPort int) error {
	members, err := h.dir.Members(sessionCode)
	if err != nil {
		return err
	}

	event := peerUDPInfoEvent{
		Type:       typePeerUDPInfo,
		PeerID:     peerID,
		PublicIP:   publicIP,
		PublicPort: publicPort,
	}
	if members.HostConnID != "" && members.HostConnID != peerID {
		h.sendEventTo(members.HostConnID, event)
	}
	for _, clientID := range members.ClientConnIDs {
		if clientID != peerID {
			h.sendEventTo(clientID, event)
		}
	}
	return nil
}

// CloseAll tears down every live connection; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.writeClose(c, websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) lookup(id string) (*conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	return c, ok
}

func (h *Hub) sendEvent(c *conn, v any) {
	if err := c.send(v); err != nil {
		// The peer may have vanished between lookup and write; harmless drop.
		h.log.Debug("signal send failed", "conn_id", c.id, "err", err)
	}
}

func (h *Hub) sendEventTo(id string, v any) {
	c, ok := h.lookup(id)
	if !ok {
		return
	}
	h.sendEvent(c, v)
}

func (h *Hub) sendRawTo(id string, data []byte) {
	c, ok := h.lookup(id)
	if !ok {
		return
	}
	if err := c.sendRaw(data); err != nil {
		h.log.Debug("signal relay send failed", "conn_id", id, "err", err)
	}
}
