package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fortitwin/interviewd/internal/auth"
	"github.com/fortitwin/interviewd/internal/config"
	"github.com/fortitwin/interviewd/internal/observability"
	"github.com/fortitwin/interviewd/internal/protocol"
	"github.com/fortitwin/interviewd/internal/report"
)

// Coordinator drives one authenticated connection's interview events.
type Coordinator interface {
	RunConnection(ctx context.Context, identity auth.Identity, inbound <-chan any, outbound chan<- any)
}

type Server struct {
	cfg         config.Config
	coordinator Coordinator
	verifier    *auth.Verifier
	finalizer   *report.Finalizer
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, coordinator Coordinator, verifier *auth.Verifier, finalizer *report.Finalizer, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		coordinator: coordinator,
		verifier:    verifier,
		finalizer:   finalizer,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; another site must
				// not be able to drive a candidate's interview.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/interview/ws", s.handleInterviewWS)
	r.Get("/v1/reports/{id}", s.handleGetReport)
	if s.cfg.DevTokens {
		r.Post("/v1/auth/token", s.handleDevToken)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_report_id", "missing report id")
		return
	}
	if _, err := s.authenticate(r); err != nil {
		respondAuthError(w, err)
		return
	}

	rep, err := s.finalizer.Report(r.Context(), id)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			respondError(w, http.StatusNotFound, "report_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "report_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// handleDevToken mints a signed token for local development and tests.
// Registered only when AUTH_DEV_TOKENS is enabled.
func (s *Server) handleDevToken(w http.ResponseWriter, r *http.Request) {
	var identity auth.Identity
	if err := json.NewDecoder(r.Body).Decode(&identity); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(identity.ID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	token, err := s.verifier.Issue(identity)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token_issue_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// authenticate extracts the credential from the token cookie or the
// Authorization header and verifies it. Fails closed.
func (s *Server) authenticate(r *http.Request) (auth.Identity, error) {
	token := ""
	if c, err := r.Cookie("token"); err == nil {
		token = c.Value
	}
	if token == "" {
		h := strings.TrimSpace(r.Header.Get("Authorization"))
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			token = after
		}
	}
	return s.verifier.Verify(token)
}

func (s *Server) handleInterviewWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		respondAuthError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.coordinator.RunConnection(ctx, identity, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(256 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:   protocol.TypeError,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the
				// outbound queue is saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondAuthError(w http.ResponseWriter, err error) {
	code := "invalid_token"
	if errors.Is(err, auth.ErrMissingToken) {
		code = "missing_token"
	}
	respondError(w, http.StatusUnauthorized, code, err.Error())
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.JoinInterview:
		return m.Type, true
	case protocol.CandidateMessage:
		return m.Type, true
	case protocol.EndInterview:
		return m.Type, true
	case protocol.History:
		return m.Type, true
	case protocol.Reply:
		return m.Type, true
	case protocol.Ended:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
