package signal

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castbridge/rendezvous/internal/directory"
)

const readTimeout = 2 * time.Second

func newTestHub(t *testing.T) (*Hub, *directory.Directory, *httptest.Server) {
	t.Helper()
	dir := directory.New(directory.Config{
		SessionTTL:  30 * time.Minute,
		HostTimeout: 45 * time.Second,
	}, nil, discardLogger())
	hub := NewHub(Config{}, dir, discardLogger())
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, dir, srv
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial signal server: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	var msg map[string]any
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	return msg
}

func register(t *testing.T, ws *websocket.Conn, code, role string) string {
	t.Helper()
	if err := ws.WriteJSON(map[string]any{"type": "register", "code": code, "role": role}); err != nil {
		t.Fatalf("failed to send register: %v", err)
	}
	msg := readMessage(t, ws)
	if msg["type"] != "registered" {
		t.Fatalf("expected registered ack, got %v", msg)
	}
	id, _ := msg["id"].(string)
	if id == "" {
		t.Fatalf("registered ack missing id: %v", msg)
	}
	return id
}

func createSession(t *testing.T, dir *directory.Directory) string {
	t.Helper()
	code, err := dir.CreateSession("hostabc123", "living-room", []directory.Source{{Name: "screen", Enabled: true}})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return code
}

func TestRegisterHostActivatesSession(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	hostWS := dial(t, srv)
	register(t, hostWS, code, "host")

	view, err := dir.GetSession(code)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if view.Status != directory.StatusActive {
		t.Fatalf("expected active session after host register, got %q", view.Status)
	}
}

func TestRegisterUnknownSession(t *testing.T) {
	_, _, srv := newTestHub(t)

	ws := dial(t, srv)
	if err := ws.WriteJSON(map[string]any{"type": "register", "code": "ZZZZZZ", "role": "host"}); err != nil {
		t.Fatalf("failed to send register: %v", err)
	}
	msg := readMessage(t, ws)
	if msg["type"] != "error" {
		t.Fatalf("expected error for unknown session, got %v", msg)
	}
}

func TestRegisterMissingCodeAndBadRole(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	ws := dial(t, srv)
	if err := ws.WriteJSON(map[string]any{"type": "register", "role": "host"}); err != nil {
		t.Fatalf("failed to send register: %v", err)
	}
	if msg := readMessage(t, ws); msg["type"] != "error" {
		t.Fatalf("expected error for missing code, got %v", msg)
	}

	if err := ws.WriteJSON(map[string]any{"type": "register", "code": code, "role": "spectator"}); err != nil {
		t.Fatalf("failed to send register: %v", err)
	}
	if msg := readMessage(t, ws); msg["type"] != "error" {
		t.Fatalf("expected error for bad role, got %v", msg)
	}
}

func TestHostOnlineNotifiesWaitingClients(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	clientWS := dial(t, srv)
	register(t, clientWS, code, "client")

	hostWS := dial(t, srv)
	hostID := register(t, hostWS, code, "host")

	msg := readMessage(t, clientWS)
	if msg["type"] != "host_online" {
		t.Fatalf("expected host_online, got %v", msg)
	}
	if msg["fromId"] != hostID {
		t.Fatalf("host_online fromId = %v, want %v", msg["fromId"], hostID)
	}
}

func TestClientJoinedNotifiesHost(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	hostWS := dial(t, srv)
	register(t, hostWS, code, "host")

	clientWS := dial(t, srv)
	clientID := register(t, clientWS, code, "client")

	msg := readMessage(t, hostWS)
	if msg["type"] != "client_joined" {
		t.Fatalf("expected client_joined, got %v", msg)
	}
	if msg["clientId"] != clientID {
		t.Fatalf("client_joined clientId = %v, want %v", msg["clientId"], clientID)
	}
}

func TestTargetedRelayInjectsFromID(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	hostWS := dial(t, srv)
	register(t, hostWS, code, "host")

	clientWS := dial(t, srv)
	clientID := register(t, clientWS, code, "client")
	readMessage(t, hostWS) // client_joined

	err := clientWS.WriteJSON(map[string]any{
		"type": "offer",
		"sdp":  "v=0 fake offer",
	})
	if err != nil {
		t.Fatalf("failed to send offer: %v", err)
	}
	msg := readMessage(t, hostWS)
	if msg["type"] != "offer" {
		t.Fatalf("expected relayed offer, got %v", msg)
	}
	if msg["fromId"] != clientID {
		t.Fatalf("relayed offer fromId = %v, want %v", msg["fromId"], clientID)
	}
	if msg["sdp"] != "v=0 fake offer" {
		t.Fatalf("relayed offer lost payload: %v", msg)
	}

	// Targeted reply back to the client; targetId is stripped on delivery.
	err = hostWS.WriteJSON(map[string]any{
		"type":     "answer",
		"targetId": clientID,
		"sdp":      "v=0 fake answer",
	})
	if err != nil {
		t.Fatalf("failed to send answer: %v", err)
	}
	msg = readMessage(t, clientWS)
	if msg["type"] != "answer" {
		t.Fatalf("expected relayed answer, got %v", msg)
	}
	if _, ok := msg["targetId"]; ok {
		t.Fatalf("relayed answer retained targetId: %v", msg)
	}
	if msg["fromId"] == "" || msg["fromId"] == clientID {
		t.Fatalf("relayed answer has wrong fromId: %v", msg)
	}
}

func TestSecondRegisterRejected(t *testing.T) {
	_, dir, srv := newTestHub(t)
	codeA := createSession(t, dir)
	codeB := createSession(t, dir)

	hostWS := dial(t, srv)
	register(t, hostWS, codeA, "host")

	if err := hostWS.WriteJSON(map[string]any{"type": "register", "code": codeB, "role": "host"}); err != nil {
		t.Fatalf("failed to send second register: %v", err)
	}
	if msg := readMessage(t, hostWS); msg["type"] != "error" {
		t.Fatalf("expected error for second register, got %v", msg)
	}

	// The rejected register must not touch either session.
	viewA, err := dir.GetSession(codeA)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if viewA.Status != directory.StatusActive {
		t.Fatalf("first session status = %q, want active", viewA.Status)
	}
	viewB, err := dir.GetSession(codeB)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if viewB.Status != directory.StatusWaiting || viewB.HostConnID != "" {
		t.Fatalf("second session gained a host: status=%q hostConn=%q", viewB.Status, viewB.HostConnID)
	}

	// Disconnect still reverts the one session the connection registered into.
	hostWS.Close()
	deadline := time.Now().Add(readTimeout)
	for {
		viewA, err = dir.GetSession(codeA)
		if err != nil {
			t.Fatalf("session lookup failed: %v", err)
		}
		if viewA.Status == directory.StatusWaiting && viewA.HostConnID == "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first session stuck after disconnect: status=%q hostConn=%q", viewA.Status, viewA.HostConnID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTargetedRelayToSelf(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	hostWS := dial(t, srv)
	hostID := register(t, hostWS, code, "host")

	err := hostWS.WriteJSON(map[string]any{
		"type":      "ice-candidate",
		"targetId":  hostID,
		"candidate": "c-self",
	})
	if err != nil {
		t.Fatalf("failed to send self-targeted candidate: %v", err)
	}
	msg := readMessage(t, hostWS)
	if msg["type"] != "ice-candidate" || msg["candidate"] != "c-self" {
		t.Fatalf("self-targeted message not delivered: %v", msg)
	}
	if msg["fromId"] != hostID {
		t.Fatalf("self-targeted message fromId = %v, want %v", msg["fromId"], hostID)
	}
}

func TestBroadcastTopology(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	hostWS := dial(t, srv)
	register(t, hostWS, code, "host")

	clientA := dial(t, srv)
	register(t, clientA, code, "client")
	readMessage(t, hostWS) // client_joined

	clientB := dial(t, srv)
	register(t, clientB, code, "client")
	readMessage(t, hostWS) // client_joined

	// Host broadcast reaches every client.
	if err := hostWS.WriteJSON(map[string]any{"type": "connection_info", "seq": 1}); err != nil {
		t.Fatalf("failed to broadcast: %v", err)
	}
	for _, ws := range []*websocket.Conn{clientA, clientB} {
		msg := readMessage(t, ws)
		if msg["type"] != "connection_info" {
			t.Fatalf("client missed host broadcast, got %v", msg)
		}
	}

	// Client broadcast reaches the host only, never other clients.
	if err := clientA.WriteJSON(map[string]any{"type": "ice-candidate", "candidate": "c1"}); err != nil {
		t.Fatalf("failed to send candidate: %v", err)
	}
	msg := readMessage(t, hostWS)
	if msg["type"] != "ice-candidate" {
		t.Fatalf("host missed client broadcast, got %v", msg)
	}

	_ = clientB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var leaked map[string]any
	if err := clientB.ReadJSON(&leaked); err == nil {
		t.Fatalf("client broadcast leaked to sibling client: %v", leaked)
	}
}

func TestTargetedRelayToMissingPeerIsDropped(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	hostWS := dial(t, srv)
	register(t, hostWS, code, "host")

	err := hostWS.WriteJSON(map[string]any{
		"type":     "offer",
		"targetId": "no-such-conn",
		"sdp":      "v=0",
	})
	if err != nil {
		t.Fatalf("failed to send offer: %v", err)
	}

	// No error event comes back; the message just vanishes.
	_ = hostWS.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg map[string]any
	if err := hostWS.ReadJSON(&msg); err == nil {
		t.Fatalf("expected silence for missing target, got %v", msg)
	}
}

func TestRelayBeforeRegisterIsRejected(t *testing.T) {
	_, _, srv := newTestHub(t)

	ws := dial(t, srv)
	if err := ws.WriteJSON(map[string]any{"type": "offer", "sdp": "v=0"}); err != nil {
		t.Fatalf("failed to send offer: %v", err)
	}
	if msg := readMessage(t, ws); msg["type"] != "error" {
		t.Fatalf("expected error for unregistered relay, got %v", msg)
	}
}

func TestHostDisconnectRevertsSessionAndNotifies(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	hostWS := dial(t, srv)
	hostID := register(t, hostWS, code, "host")

	clientWS := dial(t, srv)
	register(t, clientWS, code, "client")
	readMessage(t, hostWS) // client_joined

	hostWS.Close()

	msg := readMessage(t, clientWS)
	if msg["type"] != "host_offline" {
		t.Fatalf("expected host_offline, got %v", msg)
	}
	if msg["fromId"] != hostID {
		t.Fatalf("host_offline fromId = %v, want %v", msg["fromId"], hostID)
	}

	deadline := time.Now().Add(readTimeout)
	for {
		view, err := dir.GetSession(code)
		if err != nil {
			t.Fatalf("session lookup failed: %v", err)
		}
		if view.Status == directory.StatusWaiting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session did not revert to waiting, status %q", view.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientDisconnectNotifiesHost(t *testing.T) {
	_, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	hostWS := dial(t, srv)
	register(t, hostWS, code, "host")

	clientWS := dial(t, srv)
	clientID := register(t, clientWS, code, "client")
	readMessage(t, hostWS) // client_joined

	clientWS.Close()

	msg := readMessage(t, hostWS)
	if msg["type"] != "client_left" {
		t.Fatalf("expected client_left, got %v", msg)
	}
	if msg["clientId"] != clientID {
		t.Fatalf("client_left clientId = %v, want %v", msg["clientId"], clientID)
	}
}

func TestPingPong(t *testing.T) {
	_, _, srv := newTestHub(t)

	ws := dial(t, srv)
	if err := ws.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}
	if msg := readMessage(t, ws); msg["type"] != "pong" {
		t.Fatalf("expected pong, got %v", msg)
	}
}

func TestMalformedMessage(t *testing.T) {
	_, _, srv := newTestHub(t)

	ws := dial(t, srv)
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to send garbage: %v", err)
	}
	if msg := readMessage(t, ws); msg["type"] != "error" {
		t.Fatalf("expected error for malformed message, got %v", msg)
	}
}

func TestUnknownTypeIgnored(t *testing.T) {
	_, _, srv := newTestHub(t)

	ws := dial(t, srv)
	if err := ws.WriteJSON(map[string]any{"type": "telemetry", "x": 1}); err != nil {
		t.Fatalf("failed to send unknown type: %v", err)
	}
	// The connection stays usable; a ping still gets answered.
	if err := ws.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}
	if msg := readMessage(t, ws); msg["type"] != "pong" {
		t.Fatalf("expected pong after ignored message, got %v", msg)
	}
}

func TestNotifyPeerEndpointExcludesPeer(t *testing.T) {
	hub, dir, srv := newTestHub(t)
	code := createSession(t, dir)

	hostWS := dial(t, srv)
	register(t, hostWS, code, "host")

	clientWS := dial(t, srv)
	clientID := register(t, clientWS, code, "client")
	readMessage(t, hostWS) // client_joined

	if err := hub.NotifyPeerEndpoint(code, clientID, "203.0.113.9", 41234); err != nil {
		t.Fatalf("NotifyPeerEndpoint failed: %v", err)
	}

	msg := readMessage(t, hostWS)
	if msg["type"] != "peer_udp_info" {
		t.Fatalf("expected peer_udp_info, got %v", msg)
	}
	if msg["peerId"] != clientID || msg["publicIP"] != "203.0.113.9" || msg["publicPort"] != float64(41234) {
		t.Fatalf("unexpected peer_udp_info payload: %v", msg)
	}

	_ = clientWS.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var leaked map[string]any
	if err := clientWS.ReadJSON(&leaked); err == nil {
		t.Fatalf("peer received its own endpoint event: %v", leaked)
	}
}

func TestOriginCheck(t *testing.T) {
	dir := directory.New(directory.Config{
		SessionTTL:  30 * time.Minute,
		HostTimeout: 45 * time.Second,
	}, nil, discardLogger())
	hub := NewHub(Config{AllowedOrigins: []string{"https://app.example.com"}}, dir, discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example.com"}})
	if err == nil {
		t.Fatal("expected dial to fail for disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for disallowed origin, got %v", resp)
	}

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://app.example.com"}})
	if err != nil {
		t.Fatalf("expected dial to succeed for allowed origin: %v", err)
	}
	ws.Close()
}
