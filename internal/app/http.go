package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"classdesk/api/internal/auth"
	"classdesk/api/internal/schema"
	"classdesk/api/internal/syncer"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	maxBodyBytes       = 1 << 20
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		s.service.metrics.WritePrometheus(w)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/document" {
		writeJSON(w, http.StatusOK, viewOf(s.service.State()))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/document/stream" {
		s.handleStream(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/document/flush" {
		if err := s.service.Flush(r.Context()); err != nil {
			s.logger.Warn("flush failed", "error", err)
			writeError(w, http.StatusBadGateway, "FLUSH_FAILED", "Pending changes could not be written", nil)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s.service.State()))
		return
	}

	if r.URL.Path == "/api/identity" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, s.service.State().Identity)
		case http.MethodPost:
			s.handleSignIn(w, r)
		case http.MethodDelete:
			state, err := s.service.SignOut(r.Context())
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, viewOf(state))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)
	if r.Method == http.MethodPut && len(parts) == 3 && parts[0] == "api" && parts[1] == "document" {
		s.handleReplaceField(w, r, parts[2])
		return
	}

	if r.Method == http.MethodPut && len(parts) == 5 && parts[0] == "api" && parts[1] == "document" &&
		parts[2] == schema.FieldDashboardModules && parts[4] == "visible" {
		s.handleModuleVisible(w, r, parts[3])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	state := s.service.State()
	checks := map[string]any{
		"sync": map[string]any{"status": string(state.SyncState), "mode": string(state.Mode), "degraded": state.Degraded},
	}

	if !s.service.RemoteEnabled() {
		checks["remote"] = map[string]any{"status": "disabled"}
	} else if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["remote"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	} else {
		checks["remote"] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	var state syncer.State
	switch {
	case errors.Is(err, errNoBearer):
		state, err = s.service.SignOut(r.Context())
	case err == nil:
		state, err = s.service.SignIn(r.Context(), token)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(state))
}

func (s *HTTPServer) handleReplaceField(w http.ResponseWriter, r *http.Request, field string) {
	raw, err := readRawBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	state, err := s.service.ReplaceField(field, raw)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(state))
}

func (s *HTTPServer) handleModuleVisible(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Visible == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "visible is required", nil)
		return
	}
	state, err := s.service.SetModuleVisible(id, *body.Visible)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(state))
}

// handleStream pushes the document view on connect and after every change.
// Client messages are ignored.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if s.corsOrigin == "*" {
		opts.InsecureSkipVerify = true
	} else if u, err := url.Parse(s.corsOrigin); err == nil && u.Host != "" {
		opts.OriginPatterns = []string{u.Host}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := conn.CloseRead(r.Context())
	changes, stop := s.service.Watch()
	defer stop()
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	if err := s.push(ctx, conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-changes:
			if err := s.push(ctx, conn); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) push(ctx context.Context, conn *websocket.Conn) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, viewOf(s.service.State())); err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("stream write failed", "error", err)
		}
		return err
	}
	return nil
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the stream endpoint upgrade through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// readRawBody returns the request body as a single JSON value.
func readRawBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("request body too large")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("request body is required")
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON body")
	}
	return json.RawMessage(data), nil
}

var errNoBearer = errors.New("no bearer token")

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errNoBearer
	}
	return auth.BearerToken(header)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if isAuthError(err) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, syncer.ErrInvalidIdentity) {
		return http.StatusBadRequest, "INVALID_IDENTITY", "Identity has no stable id", nil
	}
	if errors.Is(err, syncer.ErrClosed) {
		return http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
