package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"i4.energy/across/espbridge/esp"
)

// Server handles incoming HTTP requests for inspecting the bridge and
// sending data through the module.
type Server struct {
	Logger *slog.Logger
	Bridge *Bridge

	router chi.Router
}

func NewServer(logger *slog.Logger, bridge *Bridge) *Server {
	s := &Server{Logger: logger, Bridge: bridge}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/frames", s.handleFrames)
	r.Post("/send", s.handleSend)
	r.Delete("/links/{id}", s.handleCloseLink)

	s.router = r
	return s
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, s.Bridge.Status(), http.StatusOK)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, s.Bridge.Frames(), http.StatusOK)
}

// handleSend writes the request's data to a link of the module
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	type SendRequest struct {
		Link *int   `json:"link"`
		Data string `json:"data"`
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Link == nil || req.Data == "" {
		s.sendError(w, "both 'link' and 'data' fields are required", http.StatusBadRequest)
		return
	}

	if err := s.Bridge.Send(r.Context(), *req.Link, []byte(req.Data)); err != nil {
		s.Logger.Error("Failed to send data", "error", err, "link", *req.Link)
		s.sendError(w, err.Error(), deviceErrorStatus(err))
		return
	}

	s.Logger.Info("Data sent successfully", "link", *req.Link, "bytes", len(req.Data))
	w.WriteHeader(http.StatusOK)
}

// handleCloseLink drops one client connection of the module's TCP server
func (s *Server) handleCloseLink(w http.ResponseWriter, r *http.Request) {
	link, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || link < 0 {
		s.sendError(w, "link id must be a non-negative integer", http.StatusBadRequest)
		return
	}

	if err := s.Bridge.CloseLink(r.Context(), link); err != nil {
		s.Logger.Error("Failed to close link", "error", err, "link", link)
		s.sendError(w, err.Error(), deviceErrorStatus(err))
		return
	}

	s.Logger.Info("Link closed", "link", link)
	w.WriteHeader(http.StatusNoContent)
}

// deviceErrorStatus maps a device error to an HTTP status code
func deviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, esp.ErrInvalidState), errors.Is(err, esp.ErrAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, esp.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
