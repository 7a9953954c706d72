package directory

import (
	"time"

	"github.com/castbridge/rendezvous/internal/metrics"
)

// RegisterHost creates or updates a host record. A known hostID is updated in
// place preserving registeredAt; anything else (including an unknown caller-
// supplied id) gets a freshly minted id. Either way the heartbeat clock
// restarts.
func (d *Directory) RegisterHost(in RegisterHostInput) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()

	if in.HostID != "" {
		if h, ok := d.hosts.Get(in.HostID); ok {
			h.computerName = in.ComputerName
			h.sources = append([]Source(nil), in.Sources...)
			if in.PublicIP != "" {
				h.publicIP = in.PublicIP
			}
			if in.PublicPort != 0 {
				h.publicPort = in.PublicPort
			}
			h.lastHeartbeat = now
			return h.id, nil
		}
	}

	id, err := newHostID()
	if err != nil {
		return "", err
	}
	d.hosts.Put(id, &host{
		id:            id,
		computerName:  in.ComputerName,
		sources:       append([]Source(nil), in.Sources...),
		publicIP:      in.PublicIP,
		publicPort:    in.PublicPort,
		registeredAt:  now,
		lastHeartbeat: now,
	})
	metrics.HostsRegistered.Set(float64(d.hosts.Len()))
	d.log.Info("host registered", "host_id", id, "computer_name", in.ComputerName)
	return id, nil
}

// Heartbeat refreshes the host's liveness, applies any provided field
// overwrites, and returns the not-yet-acknowledged pending connection
// requests for the host to act on.
func (d *Directory) Heartbeat(hostID string, update HeartbeatUpdate) ([]PendingRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts.Get(hostID)
	if !ok {
		return nil, ErrHostNotFound
	}

	h.lastHeartbeat = d.clock.Now()
	if update.PublicIP != "" {
		h.publicIP = update.PublicIP
	}
	if update.PublicPort != 0 {
		h.publicPort = update.PublicPort
	}
	if update.Sources != nil {
		h.sources = append([]Source(nil), update.Sources...)
	}

	var pending []PendingRequest
	for _, req := range h.pending {
		if !req.Acknowledged {
			pending = append(pending, req)
		}
	}
	return pending, nil
}

// RequestConnect queues a pending connection request against an enabled
// source and returns the host's current public endpoint. Repeated calls
// append duplicates on purpose: the queue is at-least-once and drained by the
// host on heartbeat, so deduping here would drop legitimate client retries.
func (d *Directory) RequestConnect(hostID string, in ConnectRequestInput) (ConnectRequestResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts.Get(hostID)
	if !ok {
		return ConnectRequestResult{}, ErrHostNotFound
	}

	enabled := false
	for _, src := range h.sources {
		if src.Name == in.SourceName {
			enabled = src.Enabled
			break
		}
	}
	if !enabled {
		return ConnectRequestResult{}, ErrSourceNotFound
	}

	clientID := in.ClientID
	if clientID == "" {
		clientID = newClientID()
	}
	h.pending = append(h.pending, PendingRequest{
		ClientID:        clientID,
		ClientName:      in.ClientName,
		RequestedSource: in.SourceName,
		PublicIP:        in.PublicIP,
		PublicPort:      in.PublicPort,
		RequestedAt:     d.clock.Now(),
	})
	return ConnectRequestResult{
		ClientID: clientID,
		HostIP:   h.publicIP,
		HostPort: h.publicPort,
	}, nil
}

// PollConnectStatus reports whether the host is live (computed from heartbeat
// recency at read time, not cached) and whether the request was acknowledged.
func (d *Directory) PollConnectStatus(hostID, clientID string) (ConnectStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts.Get(hostID)
	if !ok {
		return ConnectStatus{}, ErrHostNotFound
	}

	for i := len(h.pending) - 1; i >= 0; i-- {
		if h.pending[i].ClientID == clientID {
			return ConnectStatus{
				HostOnline:   d.hostAvailable(h, d.clock.Now()),
				HostIP:       h.publicIP,
				HostPort:     h.publicPort,
				Acknowledged: h.pending[i].Acknowledged,
			}, nil
		}
	}
	return ConnectStatus{}, ErrRequestNotFound
}

// Acknowledge marks every pending request from clientID acknowledged.
// Acknowledgment is advisory: a missing host or request is a no-op, not an
// error.
func (d *Directory) Acknowledge(hostID, clientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts.Get(hostID)
	if !ok {
		return
	}
	for i := range h.pending {
		if h.pending[i].ClientID == clientID {
			h.pending[i].Acknowledged = true
		}
	}
}

// ListAvailableHosts returns hosts within the heartbeat TTL that advertise at
// least one enabled source. Liveness is computed at read time; a stale host
// disappears from listings before the sweep actually removes it. Order is a
// registry iteration snapshot, deliberately unspecified.
func (d *Directory) ListAvailableHosts() []AvailableHost {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()

	out := make([]AvailableHost, 0)
	for _, h := range d.hosts.Snapshot() {
		if !d.hostAvailable(h, now) {
			continue
		}
		var names []string
		for _, src := range h.sources {
			if src.Enabled {
				names = append(names, src.Name)
			}
		}
		if len(names) == 0 {
			continue
		}
		out = append(out, AvailableHost{
			HostID:       h.id,
			ComputerName: h.computerName,
			SourceNames:  names,
			LastSeen:     h.lastHeartbeat,
		})
	}
	return out
}

// DeleteHost removes a host record. Idempotent.
func (d *Directory) DeleteHost(hostID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts.Delete(hostID)
	metrics.HostsRegistered.Set(float64(d.hosts.Len()))
}

// SweepHosts purges hosts whose heartbeat is older than the timeout, keeping
// listings bounded without lazy deletion on read.
func (d *Directory) SweepHosts(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := d.hosts.Sweep(now, func(h *host, now time.Time) bool {
		return !d.hostAvailable(h, now)
	})
	if removed > 0 {
		metrics.Swept.WithLabelValues(metrics.SweepKindHosts).Add(float64(removed))
		metrics.HostsRegistered.Set(float64(d.hosts.Len()))
	}
	return removed
}

func (d *Directory) hostAvailable(h *host, now time.Time) bool {
	return now.Sub(h.lastHeartbeat) < d.cfg.HostTimeout
}

// Stats is the feed for GET /api/stats.
func (d *Directory) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	active := 0
	for _, sess := range d.sessions.Snapshot() {
		if sess.status == StatusActive {
			active++
		}
	}
	return Stats{
		Sessions:       d.sessions.Len(),
		ActiveSessions: active,
		Hosts:          d.hosts.Len(),
	}
}

// StartedAt reports when the directory was constructed (uptime basis).
func (d *Directory) StartedAt() time.Time {
	return d.startedAt
}
