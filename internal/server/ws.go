package server

import (
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/carrier"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// twimlResponse is the carrier's call-control document. Exactly one of
// Stream or ConversationRelay is set per response.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream *twimlStream `xml:"Stream,omitempty"`
	Relay  *twimlRelay  `xml:"ConversationRelay,omitempty"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

type twimlRelay struct {
	URL string `xml:"url,attr"`
}

func registerVoiceRoutes(mux *http.ServeMux, registry *session.Registry, bridges Bridges, tenants TenantSource, hub *Hub, cfg Config) {
	mux.HandleFunc("POST /voice/inbound", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed webhook form")
			return
		}

		tenantID := r.URL.Query().Get("tenant")
		if tenantID == "" {
			writeJSONError(w, http.StatusBadRequest, "missing tenant")
			return
		}
		if _, err := tenants.TenantProfile(tenantID); err != nil {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("tenant %s has no voice profile", tenantID))
			return
		}

		method := session.Method(r.URL.Query().Get("method"))
		if method == "" {
			method = cfg.DefaultMethod
		}
		if bridges.forMethod(method) == nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported call method %q", method))
			return
		}

		from := r.PostFormValue("From")
		sess := registry.Create(tenantID, from, method, session.DirectionInbound)
		if hub != nil {
			hub.BroadcastCallStarted(sess.ID, tenantID, string(method))
		}

		wsURL := callbackURL(cfg.PublicURL, method, sess.ID)
		resp := twimlResponse{}
		if method == session.MethodRelay {
			resp.Connect.Relay = &twimlRelay{URL: wsURL}
		} else {
			resp.Connect.Stream = &twimlStream{URL: wsURL}
		}

		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, xml.Header)
		if err := xml.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("warning: encode webhook response for call %s: %v", sess.ID, err)
		}
	})

	mux.HandleFunc("GET /ws/voice/{method}/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validCallID(sessionID) {
			http.Error(w, "invalid session id", http.StatusForbidden)
			return
		}

		bridge := bridges.forMethod(session.Method(r.PathValue("method")))
		if bridge == nil {
			http.Error(w, "unknown call method", http.StatusNotFound)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("warning: carrier upgrade for session %s: %v", sessionID, err)
			return
		}

		// Blocks for the duration of the call.
		bridge.Handle(r.Context(), sessionID, carrier.NewConn(ws))
	})
}

// callbackURL builds the websocket URL the carrier dials back for one
// call.
func callbackURL(publicURL string, method session.Method, sessionID string) string {
	wsBase := publicURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return strings.TrimSuffix(wsBase, "/") + "/ws/voice/" + string(method) + "/" + url.PathEscape(sessionID)
}

func registerMonitorRoute(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws/monitor", func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			http.Error(w, "monitor feed disabled", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("warning: monitor upgrade: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		if payload, err := marshalEvent(ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	})
}
