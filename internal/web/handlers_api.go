package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"plugwise-hub/internal/smile"
	"plugwise-hub/internal/store"
)

func (s *Server) handleAPIListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.hub.Store().ListNodes()
	if err != nil {
		s.logger.Error("list nodes", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleAPIGetNode(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	node, err := s.hub.Store().GetNode(mac)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "node not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, node)
}

type addNodeRequest struct {
	MAC string `json:"mac"`
}

func (s *Server) handleAPIAddNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.hub.Registry().AddNode(req.MAC); err != nil {
		s.logger.Error("add node", "err", err, "mac", req.MAC)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "join requested"})
}

func (s *Server) handleAPIRemoveNode(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	if err := s.hub.Registry().RemoveNode(mac); err != nil {
		s.logger.Error("remove node", "err", err, "mac", mac)
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "node not found"})
			return
		}
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setRelayRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleAPISetRelay(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")

	var req setRelayRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.hub.Registry().SwitchRelay(mac, req.On); err != nil {
		s.logger.Error("switch relay", "err", err, "mac", mac)
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "node not found"})
			return
		}
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// climateView is the projected heating/cooling state of one device. Nil
// pointers mean unknown.
type climateView struct {
	HeatingState *bool  `json:"heating_state"`
	CoolingState *bool  `json:"cooling_state"`
	ControlState string `json:"control_state,omitempty"`
	Icon         string `json:"icon,omitempty"`
}

// gatewayView is the API projection of the latest gateway snapshot.
type gatewayView struct {
	Available        bool                         `json:"available"`
	FetchedAt        time.Time                    `json:"fetched_at"`
	GatewayID        string                       `json:"gateway_id,omitempty"`
	Devices          map[string]smile.DeviceState `json:"devices,omitempty"`
	Climate          map[string]climateView       `json:"climate,omitempty"`
	Notifications    map[string]string            `json:"notifications,omitempty"`
	NotificationIcon string                       `json:"notification_icon"`
}

func (s *Server) handleAPIGateway(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no gateway configured"})
		return
	}

	snap := s.poller.Snapshot()
	view := gatewayView{
		Available:        snap.Available,
		FetchedAt:        snap.FetchedAt,
		NotificationIcon: smile.IconFor("plugwise_notification", false),
	}
	if snap.Data == nil {
		s.writeJSON(w, http.StatusOK, view)
		return
	}

	view.GatewayID = snap.Data.Meta.GatewayID
	view.Devices = snap.Data.Devices

	view.Climate = make(map[string]climateView)
	for id := range snap.Data.Devices {
		th := smile.NewThermostat(*snap.Data, id)
		cv := climateView{
			HeatingState: th.HeatingState(),
			CoolingState: th.CoolingState(),
		}
		if cs, ok := snap.Data.Devices[id]["control_state"].(string); ok {
			cv.ControlState = cs
			cv.Icon = smile.IconFor(cs, false)
		}
		view.Climate[id] = cv
	}

	notes := smile.AggregateNotifications(snap.Data.Meta.Notifications)
	view.Notifications = notes.Messages
	view.NotificationIcon = smile.IconFor("plugwise_notification", len(notes.Messages) > 0)

	s.writeJSON(w, http.StatusOK, view)
}

type hubOptions struct {
	AcceptJoins bool `json:"accept_joins"`
}

func (s *Server) handleAPIGetOptions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, hubOptions{AcceptJoins: s.hub.AcceptJoins()})
}

func (s *Server) handleAPISetOptions(w http.ResponseWriter, r *http.Request) {
	var req hubOptions
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.hub.SetAcceptJoins(req.AcceptJoins); err != nil {
		s.logger.Error("set hub options", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, hubOptions{AcceptJoins: s.hub.AcceptJoins()})
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"state":   s.hub.State().String(),
		"version": s.version,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
