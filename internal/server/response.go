package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"typerace/internal/gamedata"
)

const maxBodyBytes = 1 << 20

type jsonResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&jsonResponse{Data: data, Message: msg})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := &jsonResponse{Error: true, Code: "Internal", Message: "internal server error"}
	status := http.StatusInternalServerError

	var ge *gamedata.Error
	if errors.As(err, &ge) {
		status = ge.HTTP()
		resp.Code = ge.Code
		resp.Message = ge.Message
	} else {
		s.logFor(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return gamedata.ErrInvalidBody
	}
	return nil
}
