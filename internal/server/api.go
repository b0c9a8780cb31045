package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
)

var callIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// CallStore is the persisted-call read surface.
type CallStore interface {
	GetCallsByDate(date string) ([]storage.CallRecord, error)
	GetCall(sessionID string) (storage.CallRecord, error)
}

// activeCall is the wire form of one in-flight session.
type activeCall struct {
	SessionID     string `json:"session_id"`
	TenantID      string `json:"tenant_id"`
	ContactID     string `json:"contact_id,omitempty"`
	CarrierCallID string `json:"carrier_call_id,omitempty"`
	Method        string `json:"method"`
	Direction     string `json:"direction"`
	Status        string `json:"status"`
	StartedAt     string `json:"started_at"`
}

func registerAPIRoutes(mux *http.ServeMux, registry *session.Registry, store CallStore) {
	mux.HandleFunc("GET /api/calls", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}

		calls, err := store.GetCallsByDate(date)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list calls: %v", err))
			return
		}
		if calls == nil {
			calls = []storage.CallRecord{}
		}

		writeJSON(w, http.StatusOK, calls)
	})

	mux.HandleFunc("GET /api/calls/active", func(w http.ResponseWriter, r *http.Request) {
		sessions := registry.Active()
		calls := make([]activeCall, 0, len(sessions))
		for _, s := range sessions {
			calls = append(calls, activeCall{
				SessionID:     s.ID,
				TenantID:      s.TenantID,
				ContactID:     s.ContactID,
				CarrierCallID: s.CarrierCallID(),
				Method:        string(s.Method),
				Direction:     string(s.Direction),
				Status:        string(s.Status()),
				StartedAt:     s.StartTime().UTC().Format(time.RFC3339Nano),
			})
		}
		writeJSON(w, http.StatusOK, calls)
	})

	mux.HandleFunc("GET /api/calls/{id}", func(w http.ResponseWriter, r *http.Request) {
		callID := r.PathValue("id")
		if !validCallID(callID) {
			writeJSONError(w, http.StatusForbidden, "invalid call id")
			return
		}

		call, err := store.GetCall(callID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get call: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, call)
	})

	mux.HandleFunc("GET /api/calls/{id}/recording", func(w http.ResponseWriter, r *http.Request) {
		callID := r.PathValue("id")
		if !validCallID(callID) {
			writeJSONError(w, http.StatusForbidden, "invalid call id")
			return
		}

		call, err := store.GetCall(callID)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "call not found")
			return
		}
		if call.RecordingPath == "" {
			writeJSONError(w, http.StatusNotFound, "recording not available")
			return
		}

		cleanPath := filepath.Clean(call.RecordingPath)
		if cleanPath == "" || cleanPath == "." || strings.Contains(cleanPath, "..") {
			writeJSONError(w, http.StatusForbidden, "invalid recording path")
			return
		}

		f, err := os.Open(cleanPath)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "recording file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat recording: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", contentTypeForAudio(cleanPath))
		http.ServeContent(w, r, filepath.Base(cleanPath), info.ModTime(), f)
	})

	// Operator hangup. Ending closes the call's transports, which makes
	// the owning bridge finalize; repeating it is harmless.
	mux.HandleFunc("POST /api/calls/{id}/end", func(w http.ResponseWriter, r *http.Request) {
		callID := r.PathValue("id")
		if !validCallID(callID) {
			writeJSONError(w, http.StatusForbidden, "invalid call id")
			return
		}

		registry.End(callID)
		w.WriteHeader(http.StatusNoContent)
	})
}

func validCallID(id string) bool {
	return callIDPattern.MatchString(id)
}

func contentTypeForAudio(path string) string {
	switch filepath.Ext(path) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
