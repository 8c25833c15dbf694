package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/founek2/IOT-Platforma-zigbee/internal/platform"
)

// handleListDevices returns a snapshot of every platform device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	platforms := s.devices.Platforms()
	snapshots := make([]platform.Snapshot, 0, len(platforms))
	for _, p := range platforms {
		snapshots = append(snapshots, p.Snapshot())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": snapshots,
		"count":   len(snapshots),
	})
}

// handleGetDevice returns one device by its ieee address.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

// handleRestartDevice re-opens the device session in its current mode.
// The restart runs in the background; the response carries the snapshot
// taken before it.
func (s *Server) handleRestartDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap := p.Snapshot()
	go p.Restart()

	s.logger.Info("device restart requested", "device_id", snap.DeviceID, "request_id", requestID(r))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": snap.DeviceID,
		"action":    "restart",
		"mode":      snap.Mode,
	})
}

// handleResetDevice forgets the apiKey and re-enters pairing.
func (s *Server) handleResetDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap := p.Snapshot()
	go p.Reset()

	s.logger.Info("device reset requested", "device_id", snap.DeviceID, "request_id", requestID(r))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": snap.DeviceID,
		"action":    "reset",
	})
}

// lookup resolves the {id} URL parameter or writes a 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*platform.Platform, bool) {
	id := chi.URLParam(r, "id")
	p, ok := s.devices.Platform(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
		return nil, false
	}
	return p, true
}
