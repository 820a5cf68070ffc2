package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yllada/openvpn-manager/common"
)

// StatusSource reports the live connection state. vpn.Manager satisfies it.
type StatusSource interface {
	ConnectionStatus() (bool, string)
	Established() bool
	ConnectionIP() string
	CachedPublicIP() string
	Uptime() time.Duration
}

// Status is the JSON body served at /status.
type Status struct {
	Connected     bool   `json:"connected"`
	Profile       string `json:"profile,omitempty"`
	Established   bool   `json:"established"`
	TunnelIP      string `json:"tunnel_ip,omitempty"`
	PublicIP      string `json:"public_ip,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Router returns the HTTP router serving /metrics and /status.
func Router(m *Metrics, source StatusSource) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, currentStatus(source))
	})

	return r
}

func currentStatus(source StatusSource) Status {
	connected, profile := source.ConnectionStatus()
	status := Status{
		Connected: connected,
		Profile:   profile,
		PublicIP:  source.CachedPublicIP(),
	}
	if connected {
		status.Established = source.Established()
		status.TunnelIP = source.ConnectionIP()
		status.UptimeSeconds = int64(source.Uptime().Seconds())
	}
	return status
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Server serves the metrics router until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr and prepares a server for handler.
func Listen(addr string, handler http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve runs until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.listener)
	}()

	common.LogInfo("Metrics listening on http://%s", s.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
