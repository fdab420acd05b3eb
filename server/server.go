package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"github.com/tmc/langchaingo/memory"

	"github.com/xhad/docportal/internal/app"
	"github.com/xhad/docportal/internal/models"
	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/pkg/rag"
)

type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

type Server struct {
	app       *app.App
	log       logger.Logger
	pipelines *cache.Cache
	maxUpload int64
	upgrader  websocket.Upgrader
}

func New(a *app.App, log logger.Logger) *Server {
	cfg := a.Config().Server
	return &Server{
		app:       a,
		log:       log,
		pipelines: cache.New(cfg.SessionTTL, 2*cfg.SessionTTL),
		maxUpload: cfg.MaxUpload,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/compare", s.handleCompare)
	mux.HandleFunc("POST /api/chat/index", s.handleIndex)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.readUploads(w, r, "file")
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.app.Analyze(r.Context(), uploads[0])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": res.SessionID,
		"analysis":   res.Analysis,
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	reference, err := s.readUploads(w, r, "reference")
	if err != nil {
		s.writeError(w, err)
		return
	}
	actual, err := s.readUploads(w, r, "actual")
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.app.Compare(r.Context(), reference[0], actual[0])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": res.SessionID,
		"rows":       res.Rows,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.readUploads(w, r, "files")
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.app.Index(r.Context(), uploads, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": res.SessionID,
		"documents":  res.Documents,
		"chunks":     res.Chunks,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	pipeline, err := s.pipeline(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.log.With("session_id", sessionID)
	history := memory.NewChatMessageHistory()
	ctx := context.Background()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("error reading message", "error", err)
			}
			return
		}
		if msg.Content == "" {
			s.sendMessage(conn, "error", "empty message")
			continue
		}

		turns, err := history.Messages(ctx)
		if err != nil {
			s.sendMessage(conn, "error", err.Error())
			continue
		}

		answer, err := pipeline.Invoke(ctx, msg.Content, turns)
		if err != nil {
			s.sendMessage(conn, "error", err.Error())
			continue
		}

		if err := history.AddUserMessage(ctx, msg.Content); err != nil {
			log.Warn("failed to record user message", "error", err)
		}
		if err := history.AddAIMessage(ctx, answer); err != nil {
			log.Warn("failed to record answer", "error", err)
		}
		s.sendMessage(conn, "response", answer)
	}
}

// pipeline returns the cached pipeline for sessionID, building it on a miss.
func (s *Server) pipeline(ctx context.Context, sessionID string) (*rag.Pipeline, error) {
	if sessionID == "" {
		return nil, errs.Errorf(errs.KindValidation, "open chat", "session_id is required")
	}
	if p, ok := s.pipelines.Get(sessionID); ok {
		return p.(*rag.Pipeline), nil
	}

	p, err := s.app.Pipeline(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.pipelines.SetDefault(sessionID, p)
	return p, nil
}

func (s *Server) readUploads(w http.ResponseWriter, r *http.Request, field string) ([]models.Upload, error) {
	op := "read upload"
	if r.MultipartForm == nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
		if err := r.ParseMultipartForm(s.maxUpload); err != nil {
			return nil, errs.E(errs.KindValidation, op, err)
		}
	}

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, errs.Errorf(errs.KindValidation, op, fmt.Sprintf("missing file field %q", field))
	}

	uploads := make([]models.Upload, 0, len(headers))
	for _, h := range headers {
		data, err := readPart(h)
		if err != nil {
			return nil, errs.E(errs.KindIOFailure, op, err)
		}
		uploads = append(uploads, models.Upload{Name: h.Filename, Data: data})
	}
	return uploads, nil
}

func readPart(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Error("error sending message", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("error writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	} else {
		s.log.Warn("request rejected", "error", err)
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  errs.KindOf(err).String(),
	})
}

// StatusFor maps a domain error kind to an HTTP status.
func StatusFor(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}

	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindUnsupportedDocument:
		return http.StatusUnsupportedMediaType
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
