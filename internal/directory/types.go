package directory

import "time"

// Source is a host-advertised capture source (e.g. a camera) that clients may
// request a connection to.
type Source struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

type SessionStatus string

// Expiry deletes the session record outright, so there is no terminal
// "closed" state; a code either resolves to one of these or to not-found.
const (
	// StatusWaiting: no host connection is registered yet (or the host left).
	StatusWaiting SessionStatus = "waiting"
	// StatusActive: a host connection is currently registered.
	StatusActive SessionStatus = "active"
)

// session is the directory's internal record. Connection ids are weak
// references into the signaling hub: holding an id never implies the
// connection is still open, so every dereference goes back through the hub.
type session struct {
	code          string
	hostID        string
	bridgeName    string
	sources       []Source
	hostConnID    string
	clientConnIDs map[string]struct{}
	status        SessionStatus
	createdAt     time.Time
}

// SessionView is an immutable snapshot of a session handed to callers.
type SessionView struct {
	Code          string        `json:"code"`
	HostID        string        `json:"hostId"`
	BridgeName    string        `json:"bridgeName"`
	Sources       []Source      `json:"sources"`
	Status        SessionStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	HostConnID    string        `json:"-"`
	ClientConnIDs []string      `json:"-"`
}

// Members names the live connections attached to a session.
type Members struct {
	HostConnID    string
	ClientConnIDs []string
}

// PendingRequest is a client's unacknowledged ask to connect to a host source,
// queued for the host to drain on its next heartbeat.
type PendingRequest struct {
	ClientID        string    `json:"clientId"`
	ClientName      string    `json:"clientName"`
	RequestedSource string    `json:"requestedSource"`
	PublicIP        string    `json:"publicIP"`
	PublicPort      int       `json:"publicPort"`
	RequestedAt     time.Time `json:"requestedAt"`
	Acknowledged    bool      `json:"acknowledged"`
}

type host struct {
	id            string
	computerName  string
	sources       []Source
	publicIP      string
	publicPort    int
	registeredAt  time.Time
	lastHeartbeat time.Time
	pending       []PendingRequest
}

// AvailableHost is one row of the host listing.
type AvailableHost struct {
	HostID       string    `json:"hostId"`
	ComputerName string    `json:"computerName"`
	SourceNames  []string  `json:"sourceNames"`
	LastSeen     time.Time `json:"lastSeen"`
}

type RegisterHostInput struct {
	HostID       string
	ComputerName string
	Sources      []Source
	PublicIP     string
	PublicPort   int
}

// HeartbeatUpdate carries optional field overwrites; zero values mean "keep".
type HeartbeatUpdate struct {
	PublicIP   string
	PublicPort int
	Sources    []Source
}

type ConnectRequestInput struct {
	ClientID   string
	ClientName string
	SourceName string
	PublicIP   string
	PublicPort int
}

type ConnectRequestResult struct {
	ClientID string
	HostIP   string
	HostPort int
}

type ConnectStatus struct {
	HostOnline   bool
	HostIP       string
	HostPort     int
	Acknowledged bool
}

type Stats struct {
	Sessions       int
	ActiveSessions int
	Hosts          int
}
