// Package discovery implements the reflexive-address probe: a UDP listener
// that echoes the observed source address of a sender back to it and fans the
// observation out to the sender's session peers through the signaling hub.
//
// Two datagram dialects share the socket. The product protocol is a JSON
// probe carrying a session code and peer id; additionally, plain RFC 5389
// binding requests get a binding success response with XOR-MAPPED-ADDRESS, so
// stock STUN clients can use the same port.
package discovery

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/pion/stun/v3"

	"github.com/castbridge/rendezvous/internal/metrics"
)

const maxDatagramSize = 1500

// Notifier distributes a peer's discovered endpoint to its session members.
type Notifier interface {
	NotifyPeerEndpoint(sessionCode, peerID, publicIP string, publicPort int) error
}

type probeRequest struct {
	Type        string `json:"type"`
	SessionCode string `json:"sessionCode"`
	PeerID      string `json:"peerId"`
}

type probeResponse struct {
	Type        string `json:"type"`
	PublicIP    string `json:"publicIP"`
	PublicPort  int    `json:"publicPort"`
	SessionCode string `json:"sessionCode"`
}

type Server struct {
	log      *slog.Logger
	notifier Notifier
	conn     *net.UDPConn
	done     chan struct{}
}

// New binds the discovery socket on addr. The listener does not start reading
// until Serve is called.
func New(addr string, notifier Notifier, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Server{
		log:      logger,
		notifier: notifier,
		conn:     conn,
		done:     make(chan struct{}),
	}, nil
}

// LocalAddr returns the bound socket address, useful when addr had port 0.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve reads datagrams until Close. Every datagram is handled independently;
// a bad one is logged and dropped, never fatal to the loop.
func (s *Server) Serve() error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.handleDatagram(buf[:n], remote)
	}
}

func (s *Server) Close() error {
	close(s.done)
	return s.conn.Close()
}

func (s *Server) handleDatagram(data []byte, remote *net.UDPAddr) {
	if stun.IsMessage(data) {
		s.handleSTUN(data, remote)
		return
	}

	var req probeRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Type != "stun_request" {
		// Not for us; the port sees plenty of stray traffic.
		return
	}
	metrics.DiscoveryProbes.WithLabelValues(metrics.ProbeKindJSON).Inc()

	resp := probeResponse{
		Type:        "stun_response",
		PublicIP:    remote.IP.String(),
		PublicPort:  remote.Port,
		SessionCode: req.SessionCode,
	}
	out, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to encode probe response", "err", err)
		return
	}
	if _, err := s.conn.WriteToUDP(out, remote); err != nil {
		s.log.Warn("failed to send probe response", "remote", remote, "err", err)
		return
	}

	s.log.Debug("endpoint probe",
		"session", req.SessionCode, "peer", req.PeerID,
		"public_ip", resp.PublicIP, "public_port", resp.PublicPort)

	if req.SessionCode == "" || s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyPeerEndpoint(req.SessionCode, req.PeerID, resp.PublicIP, resp.PublicPort); err != nil {
		// Unknown or expired session; the sender still got its echo.
		s.log.Debug("endpoint fan-out skipped", "session", req.SessionCode, "err", err)
	}
}

func (s *Server) handleSTUN(data []byte, remote *net.UDPAddr) {
	req := &stun.Message{Raw: append([]byte(nil), data...)}
	if err := req.Decode(); err != nil {
		s.log.Debug("undecodable stun message", "remote", remote, "err", err)
		return
	}
	if req.Type != stun.BindingRequest {
		return
	}
	metrics.DiscoveryProbes.WithLabelValues(metrics.ProbeKindSTUN).Inc()

	resp, err := stun.Build(
		stun.BindingSuccess,
		stun.NewTransactionIDSetter(req.TransactionID),
		&stun.XORMappedAddress{IP: remote.IP, Port: remote.Port},
		stun.Fingerprint,
	)
	if err != nil {
		s.log.Error("failed to build stun response", "err", err)
		return
	}
	if _, err := s.conn.WriteToUDP(resp.Raw, remote); err != nil {
		s.log.Warn("failed to send stun response", "remote", remote, "err", err)
	}
}
