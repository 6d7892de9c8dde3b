// Package gateway is the HTTP surface the chat client posts its events to.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/roboricindustries/chat-ingest/pkg/producer"
	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
)

const maxBodyBytes = 8 << 20

type Producer interface {
	Publish(ctx context.Context, ev chat.RawEvent) (*producer.PendingReply, error)
	PublishEdit(ctx context.Context, ev chat.RawEvent, prevBody, newBody string) error
}

type Notifier interface {
	SendPhoto(ctx context.Context, path, caption string, secondary bool)
	SendError(ctx context.Context, text string)
}

// Observer receives publish and reply results; metrics.Metrics satisfies it.
type Observer interface {
	Published(queue string, err error)
	Reply(result string)
}

type Config struct {
	Addr         string
	WaitForReply bool
	// ScratchDir holds rendered QR images until they are sent.
	ScratchDir string
}

type Server struct {
	HTTPServer *http.Server

	cfg      Config
	producer Producer
	notifier Notifier
	observer Observer
	logger   *slog.Logger
}

// New builds the router. metricsHandler may be nil.
func New(cfg Config, p Producer, n Notifier, obs Observer, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	s := &Server{
		cfg:      cfg,
		producer: p,
		notifier: n,
		observer: obs,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))
	MountOps(r, metricsHandler)

	r.Route("/events", func(r chi.Router) {
		r.Post("/message", s.handleMessage)
		r.Post("/edit", s.handleEdit)
		r.Post("/auth-failure", s.handleAuthFailure)
		r.Post("/disconnected", s.handleDisconnected)
		r.Post("/qr", s.handleQR)
	})

	s.HTTPServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.HTTPServer.Handler }

func (s *Server) ListenAndServe() error {
	return s.HTTPServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.HTTPServer.Shutdown(ctx)
}

type messageResponse struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
	RecordID      string `json:"recordId,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var ev chat.RawEvent
	if !decode(w, r, &ev) {
		return
	}

	pending, err := s.producer.Publish(r.Context(), ev)
	s.observer.Published(chat.QueueNewMessage, err)
	if err != nil {
		s.publishError(w, err)
		return
	}

	resp := messageResponse{CorrelationID: pending.CorrelationID, Status: "pending"}
	if !s.cfg.WaitForReply {
		pending.Release()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	reply, err := pending.Wait(r.Context())
	switch {
	case err == nil:
		s.observer.Reply(string(reply.Status))
		resp.Status = string(reply.Status)
		resp.RecordID = reply.RecordID
		resp.Error = reply.Error
	case errors.Is(err, producer.ErrReplyTimeout):
		s.observer.Reply("timeout")
		s.logger.Warn("reply timed out", slog.String("correlation_id", pending.CorrelationID))
	case errors.Is(err, producer.ErrNoReplies):
	default:
		s.observer.Reply("error")
		s.logger.Warn("reply wait failed", slog.String("correlation_id", pending.CorrelationID), slog.Any("error", err))
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var edit chat.EditEvent
	if !decode(w, r, &edit) {
		return
	}
	err := s.producer.PublishEdit(r.Context(), edit.Message, edit.PrevBody, edit.NewBody)
	s.observer.Published(chat.QueueEditMessage, err)
	if err != nil {
		s.publishError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAuthFailure(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	s.logger.Error("chat client authentication failed", slog.String("reason", req.Reason))
	s.notifier.SendError(r.Context(), "Authentication failed: "+req.Reason)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnected(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	s.logger.Error("chat client disconnected", slog.String("reason", req.Reason))
	s.notifier.SendError(r.Context(), "Client disconnected: "+req.Reason)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publishError(w http.ResponseWriter, err error) {
	if errors.Is(err, chat.ErrInvalidContract) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Error("publish failed", slog.Any("error", err))
	http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type nopObserver struct{}

func (nopObserver) Published(string, error) {}
func (nopObserver) Reply(string)            {}
