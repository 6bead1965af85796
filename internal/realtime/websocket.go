package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/rpggio/pollit/internal/domain/poll"
)

const maxDecodeErrorsPerConn = 3

// Options tunes push connections.
type Options struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	AllowAnonymous bool
}

// DefaultOptions returns the connection settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		AllowAnonymous: true,
	}
}

// SnapshotLoader reads the current state of a poll for a viewer.
type SnapshotLoader interface {
	Get(ctx context.Context, id, viewerID string) (*poll.Poll, error)
}

// Authenticator resolves a bearer token into a voter id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type userIDContextKey struct{}

// Server is the websocket endpoint for poll subscriptions.
type Server struct {
	broadcaster *Broadcaster
	loader      SnapshotLoader
	auth        Authenticator
	opts        Options
	logger      *slog.Logger
	ws          websocket.Handler
}

// NewServer creates the websocket endpoint. auth may be nil when every
// connection is anonymous.
func NewServer(b *Broadcaster, loader SnapshotLoader, auth Authenticator, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	s := &Server{broadcaster: b, loader: loader, auth: auth, opts: opts, logger: logger}
	s.ws = websocket.Handler(s.handleConn)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := ""
	if token := tokenFromRequest(r); token != "" {
		if s.auth == nil {
			http.Error(w, "authentication is not configured", http.StatusServiceUnavailable)
			return
		}
		resolved, err := s.auth.Authenticate(r.Context(), token)
		if err != nil || strings.TrimSpace(resolved) == "" {
			s.logger.Info("websocket unauthorized", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		userID = strings.TrimSpace(resolved)
	} else if !s.opts.AllowAnonymous {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	r = r.WithContext(context.WithValue(r.Context(), userIDContextKey{}, userID))
	s.ws.ServeHTTP(w, r)
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Server) handleConn(conn *websocket.Conn) {
	ctx := context.Background()
	userID := ""
	if req := conn.Request(); req != nil {
		ctx = req.Context()
		userID, _ = ctx.Value(userIDContextKey{}).(string)
	}

	peer := newWSPeer(conn, userID, s.opts, s.logger)
	s.broadcaster.Registry().Register(peer)
	go peer.writeLoop()
	defer s.broadcaster.Disconnect(peer)

	s.logger.Debug("websocket connected", "conn_id", peer.ID(), "voter_id", userID)

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			select {
			case <-peer.Done():
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = sendError(peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case FrameJoin:
			s.handleJoin(ctx, peer, frame)
		case FrameLeave:
			s.handleLeave(peer, frame)
		case FramePing:
			_ = peer.Send(Frame{Type: FramePong, RequestID: frame.RequestID})
		default:
			_ = sendError(peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

// handleJoin subscribes before loading the snapshot: any update published
// after the subscription is delivered, and the snapshot covers everything
// before it.
func (s *Server) handleJoin(ctx context.Context, peer *wsPeer, frame Frame) {
	pollID, ok := parsePollRef(peer, frame)
	if !ok {
		return
	}

	viewers, err := s.broadcaster.Join(peer, pollID)
	if err != nil {
		return
	}

	snapshot, err := s.loader.Get(ctx, pollID, peer.UserID())
	if err != nil {
		s.broadcaster.Leave(peer, pollID)
		if errors.Is(err, poll.ErrPollNotFound) {
			_ = sendError(peer, frame.RequestID, "POLL_NOT_FOUND", "poll not found")
			return
		}
		s.logger.Error("failed to load poll snapshot", "poll_id", pollID, "error", err)
		_ = sendError(peer, frame.RequestID, "UNAVAILABLE", "poll snapshot unavailable, try again")
		return
	}

	_ = peer.Send(newFrame(FrameJoined, frame.RequestID, Presence{PollID: pollID, Viewers: viewers}))
	_ = peer.Send(newFrame(FrameSnapshot, "", snapshot))
}

func (s *Server) handleLeave(peer *wsPeer, frame Frame) {
	pollID, ok := parsePollRef(peer, frame)
	if !ok {
		return
	}
	s.broadcaster.Leave(peer, pollID)
	_ = peer.Send(newFrame(FrameLeft, frame.RequestID, PollRef{PollID: pollID}))
}

func parsePollRef(peer Conn, frame Frame) (string, bool) {
	var ref PollRef
	if err := json.Unmarshal(frame.Payload, &ref); err != nil {
		_ = sendError(peer, frame.RequestID, "INVALID_ARGUMENT", "invalid poll payload")
		return "", false
	}
	pollID := strings.TrimSpace(ref.PollID)
	if pollID == "" {
		_ = sendError(peer, frame.RequestID, "INVALID_ARGUMENT", "pollId is required")
		return "", false
	}
	return pollID, true
}

func sendError(peer Conn, requestID, code, message string) error {
	return peer.Send(newFrame(FrameError, requestID, ErrorPayload{Code: code, Message: message}))
}
