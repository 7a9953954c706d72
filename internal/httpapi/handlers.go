package httpapi

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/castbridge/rendezvous/internal/directory"
)

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	a.respond(w, http.StatusOK, envelope{"status": "ok"})
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostID     string             `json:"hostId"`
		BridgeName string             `json:"bridgeName"`
		Sources    []directory.Source `json:"sources"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	code, err := a.dir.CreateSession(req.HostID, req.BridgeName, req.Sources)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	a.respond(w, http.StatusOK, envelope{"code": code})
}

func (a *API) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		a.respondError(w, http.StatusBadRequest, "missing session code")
		return
	}

	view, err := a.dir.JoinSession(req.Code)
	if err != nil {
		a.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	a.respond(w, http.StatusOK, envelope{"session": view})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := a.dir.GetSession(chi.URLParam(r, "code"))
	if err != nil {
		a.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	a.respond(w, http.StatusOK, envelope{"session": view})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := a.dir.Stats()
	a.respond(w, http.StatusOK, envelope{
		"sessions":       stats.Sessions,
		"activeSessions": stats.ActiveSessions,
		"hosts":          stats.Hosts,
		"uptimeSeconds":  int(time.Since(a.dir.StartedAt()).Seconds()),
	})
}

func (a *API) handleRegisterHost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostID       string             `json:"hostId"`
		ComputerName string             `json:"computerName"`
		Sources      []directory.Source `json:"sources"`
		PublicIP     string             `json:"publicIP"`
		PublicPort   int                `json:"publicPort"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ComputerName == "" {
		a.respondError(w, http.StatusBadRequest, "missing computerName")
		return
	}

	// A caller-supplied address wins over the transport-observed one; hosts
	// behind a reverse proxy know their address better than the immediate hop.
	publicIP := req.PublicIP
	if publicIP == "" {
		publicIP = remoteIP(r)
	}

	hostID, err := a.dir.RegisterHost(directory.RegisterHostInput{
		HostID:       req.HostID,
		ComputerName: req.ComputerName,
		Sources:      req.Sources,
		PublicIP:     publicIP,
		PublicPort:   req.PublicPort,
	})
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, "failed to register host")
		return
	}
	a.respond(w, http.StatusOK, envelope{"hostId": hostID})
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicIP   string             `json:"publicIP"`
		PublicPort int                `json:"publicPort"`
		Sources    []directory.Source `json:"sources"`
	}
	// An empty body is a bare refresh.
	_ = decodeBody(r, &req)

	pending, err := a.dir.Heartbeat(chi.URLParam(r, "hostID"), directory.HeartbeatUpdate{
		PublicIP:   req.PublicIP,
		PublicPort: req.PublicPort,
		Sources:    req.Sources,
	})
	if err != nil {
		a.respondError(w, http.StatusNotFound, "host not found")
		return
	}
	if pending == nil {
		pending = []directory.PendingRequest{}
	}
	a.respond(w, http.StatusOK, envelope{"pendingRequests": pending})
}

func (a *API) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	a.dir.DeleteHost(chi.URLParam(r, "hostID"))
	a.respond(w, http.StatusOK, nil)
}

func (a *API) handleListHosts(w http.ResponseWriter, r *http.Request) {
	a.respond(w, http.StatusOK, envelope{"hosts": a.dir.ListAvailableHosts()})
}

func (a *API) handleRequestConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID   string `json:"clientId"`
		ClientName string `json:"clientName"`
		SourceName string `json:"sourceName"`
		PublicIP   string `json:"publicIP"`
		PublicPort int    `json:"publicPort"`
	}
	if err := decodeBody(r, &req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceName == "" {
		a.respondError(w, http.StatusBadRequest, "missing sourceName")
		return
	}

	publicIP := req.PublicIP
	if publicIP == "" {
		publicIP = remoteIP(r)
	}

	result, err := a.dir.RequestConnect(chi.URLParam(r, "hostID"), directory.ConnectRequestInput{
		ClientID:   req.ClientID,
		ClientName: req.ClientName,
		SourceName: req.SourceName,
		PublicIP:   publicIP,
		PublicPort: req.PublicPort,
	})
	switch {
	case errors.Is(err, directory.ErrHostNotFound):
		a.respondError(w, http.StatusNotFound, "host not found")
	case errors.Is(err, directory.ErrSourceNotFound):
		a.respondError(w, http.StatusNotFound, "source not found or not enabled")
	case err != nil:
		a.respondError(w, http.StatusInternalServerError, "failed to request connection")
	default:
		a.respond(w, http.StatusOK, envelope{
			"clientId": result.ClientID,
			"hostIP":   result.HostIP,
			"hostPort": result.HostPort,
		})
	}
}

func (a *API) handleConnectStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.dir.PollConnectStatus(chi.URLParam(r, "hostID"), chi.URLParam(r, "clientID"))
	if err != nil {
		a.respondError(w, http.StatusNotFound, "request not found")
		return
	}
	a.respond(w, http.StatusOK, envelope{
		"hostOnline":   status.HostOnline,
		"hostIP":       status.HostIP,
		"hostPort":     status.HostPort,
		"acknowledged": status.Acknowledged,
	})
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	a.dir.Acknowledge(chi.URLParam(r, "hostID"), chi.URLParam(r, "clientID"))
	a.respond(w, http.StatusOK, nil)
}

// remoteIP strips the port from RemoteAddr; after the RealIP middleware it
// may already be a bare IP.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
