package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"vidaa-home/internal/bridge"
)

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.Devices())
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info, ok := s.backend.Info(name)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handleAPICommand accepts the same JSON command grammar as the MQTT set
// topic, so {"power":"ON"}, {"volume":25}, {"key":"KEY_UP"} and friends
// work over both transports.
func (s *Server) handleAPICommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.backend.Command(name, payload); err != nil {
		if errors.Is(err, bridge.ErrUnknownTV) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleAPIPair(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	ok, err := s.backend.Pair(r.Context(), name)
	if err != nil {
		if errors.Is(err, bridge.ErrUnknownTV) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.logger.Error("start pairing", "err", err, "device", name)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "tv did not acknowledge pairing request"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pinRequest struct {
	PIN string `json:"pin"`
}

func (s *Server) handleAPIPin(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req pinRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.PIN == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pin is required"})
		return
	}

	ok, err := s.backend.SubmitPin(r.Context(), name, req.PIN)
	if err != nil {
		if errors.Is(err, bridge.ErrUnknownTV) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.logger.Error("submit pin", "err", err, "device", name)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusForbidden, map[string]string{"error": "pin rejected"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIWake(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.backend.Wake(name); err != nil {
		if errors.Is(err, bridge.ErrUnknownTV) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
