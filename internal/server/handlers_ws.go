package server

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/reviewarcade/server/internal/monitoring"
	"github.com/reviewarcade/server/internal/protocol"
	"github.com/reviewarcade/server/internal/session"
)

// handleWS upgrades the socket, authenticates the first frame, and hands
// the connection to the session actor. Admission checks run before the
// upgrade so rejected clients cost one HTTP response, not a socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.Allow(ip) {
		writeDetail(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	if ok, reason := s.guard.Admit(); !ok {
		monitoring.ConnectionsRejected.WithLabelValues(reason).Inc()
		s.logger.Warn().Str("reason", reason).Str("ip", ip).Msg("connection shed")
		writeDetail(w, http.StatusServiceUnavailable, "server overloaded")
		return
	}

	code := strings.ToUpper(r.PathValue("code"))
	sess, ok := s.registry.ByCode(code)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("ip", ip).Msg("websocket upgrade failed")
		return
	}

	atomic.AddInt64(&s.connCount, 1)
	monitoring.ConnectionsActive.Inc()
	conn := session.NewConn(ws, s.cfg.SendQueueSize, s.cfg.HeartbeatInterval, s.cfg.HeartbeatTimeout, s.logger, func() {
		atomic.AddInt64(&s.connCount, -1)
		monitoring.ConnectionsActive.Dec()
	})

	init, werr := conn.ReadInit(s.cfg.InitTimeout)
	if werr != nil {
		conn.Reject(werr.Code, werr.Message)
		return
	}

	switch init.Role {
	case protocol.RoleHost:
		claims, err := s.auth.Verify(init.Token)
		if err != nil {
			conn.Reject(protocol.ErrAuthInvalid, "invalid token")
			return
		}
		if werr := sess.AttachHost(conn, claims.TeacherID()); werr != nil {
			conn.Reject(werr.Code, werr.Message)
			return
		}
	case protocol.RolePlayer:
		if werr := sess.AttachPlayer(conn, init.Token, init.PlayerID); werr != nil {
			conn.Reject(werr.Code, werr.Message)
			return
		}
	}

	conn.Start()
}

// clientIP prefers the first X-Forwarded-For hop so limits apply to the real
// client behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
