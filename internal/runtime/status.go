package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	jsoncodec "github.com/drblury/devicerelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/devicerelay/internal/runtime/logging"
)

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Status        string  `json:"status"`
	Connections   int     `json:"connections"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

func (s *Service) registerRoutes() {
	port := s.Conf.Port

	s.RegisterHTTPHandler(port, "/api/status", s.withCORS(http.HandlerFunc(s.handleStatus)))
	s.RegisterHTTPHandler(port, "/api/devices", s.withCORS(http.HandlerFunc(s.handleDevices)))
	s.RegisterHTTPHandler(port, "/api/stats", s.withCORS(http.HandlerFunc(s.handleStats)))

	s.RegisterHTTPHandler(port, "/ws", http.HandlerFunc(s.handleWebsocket))
	s.RegisterHTTPHandler(port, "/socket", http.HandlerFunc(s.handleWebsocket))

	if s.Conf.MetricsEnabled {
		metricsPort := s.Conf.MetricsPort
		if metricsPort == 0 {
			metricsPort = port
		}
		s.RegisterHTTPHandler(metricsPort, "/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{
			Registry: s.promRegistry,
		}))
	}

	if s.Conf.StaticDir != "" {
		s.RegisterHTTPHandler(port, "/", s.withCORS(http.FileServer(http.Dir(s.Conf.StaticDir))))
	}
}

// Status reports liveness and the number of open connections.
func (s *Service) Status() StatusResponse {
	return StatusResponse{
		Status:        "online",
		Connections:   s.hub.Len(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
}

// Stats returns the dispatch counters together with process usage.
func (s *Service) Stats() StatsSnapshot {
	snap := s.stats.Snapshot()
	snap.UptimeSeconds = time.Since(s.startedAt).Seconds()
	snap.Connections = s.hub.Len()
	snap.Sessions = s.registry.Len()
	snap.Bus = s.capabilities.Name
	snap.Resource = s.resourceTracker.Snapshot()
	return snap
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.Status())
}

func (s *Service) handleDevices(w http.ResponseWriter, r *http.Request) {
	roster, err := s.relay.Roster()
	if err != nil {
		s.Logger.Error("Failed to encode roster", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(roster)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.Stats())
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// withCORS sets CORS headers for allowed origins, answers preflight requests
// and rejects anything but reads.
func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if allowed != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet, http.MethodHead:
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

func (s *Service) logHTTPError(msg string, err error, r *http.Request) {
	s.Logger.Error(msg, err, loggingpkg.LogFields{
		"path":        r.URL.Path,
		"remote_addr": r.RemoteAddr,
	})
}
