// Package server exposes the gateway's HTTP surface: the carrier webhook
// that answers inbound calls, the per-call websocket routes the carrier
// dials back, the read API over persisted calls, and a monitor feed of
// call lifecycle events.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/carrier"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/session"
	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/storage"
)

// CallBridge owns one carrier connection for the duration of a call.
type CallBridge interface {
	Handle(ctx context.Context, sessionID string, cc *carrier.Conn)
}

// Bridges maps each call method to its bridge.
type Bridges struct {
	Realtime CallBridge
	Legacy   CallBridge
	Relay    CallBridge
}

func (b Bridges) forMethod(m session.Method) CallBridge {
	switch m {
	case session.MethodRealtime:
		return b.Realtime
	case session.MethodLegacy:
		return b.Legacy
	case session.MethodRelay:
		return b.Relay
	}
	return nil
}

// TenantSource validates that a webhook's tenant has a voice profile.
type TenantSource interface {
	TenantProfile(tenantID string) (storage.TenantProfile, error)
}

// Config carries the handler's own settings.
type Config struct {
	// PublicURL is the externally reachable base URL the carrier dials
	// back for websockets, e.g. https://voice.example.com.
	PublicURL string

	// DefaultMethod answers webhooks that do not pick a method.
	DefaultMethod session.Method
}

func Handler(registry *session.Registry, bridges Bridges, store CallStore, tenants TenantSource, hub *Hub, cfg Config) http.Handler {
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = session.MethodRealtime
	}

	mux := http.NewServeMux()
	registerVoiceRoutes(mux, registry, bridges, tenants, hub, cfg)
	registerAPIRoutes(mux, registry, store)
	registerMonitorRoute(mux, hub)
	return mux
}

// Serve runs the handler until ctx is cancelled, then drains in-flight
// requests briefly.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.Printf("voice gateway listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
