package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/appointment-sync/internal/appointment"
	"github.com/hackgods/appointment-sync/internal/slotgrid"
)

type OpenSessionRequest struct {
	Role  string `json:"role"`
	Email string `json:"email"`
}

type SessionResponse struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
}

type BookRequest struct {
	DoctorID string `json:"doctorId"` // "7" or "doc7"
	Date     string `json:"date"`
	Time     string `json:"time"`
}

type PaymentRequest struct {
	Method string `json:"method"`
}

type MarkReadRequest struct {
	ID string `json:"id,omitempty"` // empty marks all
}

type StatusResponse struct {
	ID     int64              `json:"id"`
	Status appointment.Status `json:"status"`
}

type BulkResponse struct {
	Approved []int64          `json:"approved"`
	Failed   map[int64]string `json:"failed,omitempty"`
	Message  string           `json:"message,omitempty"`
}

type SlotsResponse struct {
	DoctorID  string        `json:"doctorId"`
	Available int           `json:"available"`
	Days      slotgrid.Grid `json:"days"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
