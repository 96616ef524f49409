package runtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	hubpkg "github.com/drblury/devicerelay/internal/runtime/hub"
	idspkg "github.com/drblury/devicerelay/internal/runtime/ids"
	loggingpkg "github.com/drblury/devicerelay/internal/runtime/logging"
	registrypkg "github.com/drblury/devicerelay/internal/runtime/registry"
	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// newUpgrader builds the websocket upgrader. Origins follow the CORS list;
// requests without an Origin header come from non-browser clients and pass.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := false
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[strings.ToLower(o)] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if originSet[strings.ToLower(origin)] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// handleWebsocket owns one connection from upgrade to close. The session is
// announced on the bus before any frame is read, and its close is published
// after the peer has left the hub.
func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !s.trackConnection() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logHTTPError("Websocket upgrade failed", err, r)
		return
	}

	id := idspkg.NewSessionID()
	info := registrypkg.ConnectInfo{
		RemoteAddress: remoteHost(r.RemoteAddr),
		UserAgent:     r.UserAgent(),
		ConnectedAt:   time.Now().UTC(),
	}
	log := s.Logger.With(loggingpkg.LogFields{"component": "gateway", "session_id": id})
	ctx := context.WithoutCancel(r.Context())

	peer := hubpkg.NewBufferedPeer(id, s.Conf.SendBuffer)
	s.hub.Add(peer)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(conn, peer, log)
	}()
	if !s.isAccepting() {
		// Shutdown started while upgrading; the drain may have missed this peer.
		peer.Close()
	}

	opened := relaypkg.Event{Name: relaypkg.EventSessionOpened, Sender: id, Connection: info}
	if err := s.PublishEvent(ctx, opened); err != nil {
		log.Error("Failed to announce connection", err, nil)
		s.hub.Remove(id)
		peer.Close()
		<-writerDone
		return
	}
	log.Info("Connection accepted", loggingpkg.LogFields{
		"remote_addr": info.RemoteAddress,
		"user_agent":  info.UserAgent,
	})

	s.readPump(ctx, conn, id, log)

	s.hub.Remove(id)
	peer.Close()
	<-writerDone

	closed := relaypkg.Event{Name: relaypkg.EventSessionClosed, Sender: id}
	if err := s.PublishEvent(ctx, closed); err != nil {
		log.Error("Failed to announce disconnect", err, nil)
	}
	log.Info("Connection closed", loggingpkg.LogFields{"frames_dropped": peer.Dropped()})
}

// readPump publishes every well-formed frame until the connection fails.
// Frames are published in arrival order.
func (s *Service) readPump(ctx context.Context, conn *websocket.Conn, id string, log loggingpkg.ServiceLogger) {
	conn.SetReadLimit(s.Conf.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("Connection read failed", loggingpkg.LogFields{"error": err.Error()})
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := relaypkg.DecodeEnvelope(frame)
		if err != nil {
			log.Debug("Ignoring malformed frame", loggingpkg.LogFields{"error": err.Error()})
			continue
		}
		if !relaypkg.ClientEvent(env.Event) {
			log.Debug("Ignoring reserved event from client", loggingpkg.LogFields{"event": env.Event})
			continue
		}

		ev := relaypkg.Event{Name: env.Event, Sender: id, Data: env.Data}
		if err := s.PublishEvent(ctx, ev); err != nil {
			log.Error("Failed to publish event", err, loggingpkg.LogFields{"event": env.Event})
		}
	}
}

// writePump drains the peer queue onto the socket and keeps it alive with
// pings. A closed queue ends the connection.
func (s *Service) writePump(conn *websocket.Conn, peer *hubpkg.BufferedPeer, log loggingpkg.ServiceLogger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-peer.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("Connection write failed", loggingpkg.LogFields{"error": err.Error()})
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("Ping failed", loggingpkg.LogFields{"error": err.Error()})
				return
			}
		}
	}
}
