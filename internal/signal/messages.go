package signal

type messageType string

// Client-sent message types.
const (
	typeRegister       messageType = "register"
	typeOffer          messageType = "offer"
	typeAnswer         messageType = "answer"
	typeICECandidate   messageType = "ice-candidate"
	typeConnectionInfo messageType = "connection_info"
	typeUDPEndpoint    messageType = "udp_endpoint"
	typePing           messageType = "ping"
)

// Server-originated event types.
const (
	typePong         messageType = "pong"
	typeRegistered   messageType = "registered"
	typeError        messageType = "error"
	typeHostOnline   messageType = "host_online"
	typeHostOffline  messageType = "host_offline"
	typeClientJoined messageType = "client_joined"
	typeClientLeft   messageType = "client_left"
	typePeerUDPInfo  messageType = "peer_udp_info"
)

// relayable message types are forwarded verbatim (with fromId injected) and
// never interpreted by the server.
func relayable(t messageType) bool {
	switch t {
	case typeOffer, typeAnswer, typeICECandidate, typeConnectionInfo, typeUDPEndpoint:
		return true
	default:
		return false
	}
}

// envelope is the routing header parsed from every inbound message; relayed
// payload fields beyond these are opaque.
type envelope struct {
	Type     messageType `json:"type"`
	Code     string      `json:"code,omitempty"`
	Role     string      `json:"role,omitempty"`
	TargetID string      `json:"targetId,omitempty"`
}

type registeredEvent struct {
	Type messageType `json:"type"`
	ID   string      `json:"id"`
	Code string      `json:"code"`
	Role string      `json:"role"`
}

type errorEvent struct {
	Type    messageType `json:"type"`
	Message string      `json:"message"`
}

type pongEvent struct {
	Type messageType `json:"type"`
}

// hostPresenceEvent announces host_online/host_offline to a session's
// clients; FromID is the host's connection id.
type hostPresenceEvent struct {
	Type   messageType `json:"type"`
	FromID string      `json:"fromId"`
}

// clientPresenceEvent announces client_joined/client_left to a session's
// host.
type clientPresenceEvent struct {
	Type     messageType `json:"type"`
	ClientID string      `json:"clientId"`
}

type peerUDPInfoEvent struct {
	Type       messageType `json:"type"`
	PeerID     string      `json:"peerId"`
	PublicIP   string      `json:"publicIP"`
	PublicPort int         `json:"publicPort"`
}
