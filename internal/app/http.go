package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quill/api/internal/chapter"
	"quill/api/internal/llmproxy"
	"quill/api/internal/search"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	maxBodyBytes       = 8 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
	metrics    http.Handler
	throttle   *Throttle
}

// NewHTTPServer builds the transport. metrics may be nil to disable /metrics.
func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger, metrics http.Handler) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: logger, metrics: metrics}
}

// WithThrottle limits /rpc calls per client.
func (s *HTTPServer) WithThrottle(t *Throttle) *HTTPServer {
	s.throttle = t
	return s
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
		if s.metrics == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.metrics.ServeHTTP(w, r)
		return
	}

	if s.throttle != nil && strings.HasPrefix(r.URL.Path, "/rpc/") {
		if wait, ok := s.throttle.Allow(r); !ok {
			seconds := retryAfterSeconds(wait)
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"code":        "RATE_LIMITED",
				"error":       "Too many requests",
				"retry_after": seconds,
			})
			return
		}
	}

	if r.Method == http.MethodPost && r.URL.Path == "/rpc/chapter" {
		s.handleChapterRPC(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/rpc/translate" {
		s.handleTranslate(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.EscapedPath())
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "stories" && parts[3] == "chapters" {
		storyTitle, err := url.PathUnescape(parts[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PATH", "invalid story title", nil)
			return
		}
		entries, err := s.service.StoryChapters(r.Context(), storyTitle)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"story_title": storyTitle, "chapters": entries})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	failures := s.service.Ping(ctx)
	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for _, name := range s.service.CheckNames() {
		if err, failed := failures[name]; failed {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type chapterRequest struct {
	Name   string          `json:"name"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (s *HTTPServer) handleChapterRPC(w http.ResponseWriter, r *http.Request) {
	var body chapterRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	op, ok := chapter.NewOp(body.Method)
	if !ok {
		writeError(w, http.StatusBadRequest, "UNKNOWN_METHOD", fmt.Sprintf("unknown method %q", body.Method), nil)
		return
	}
	if err := decodeParams(body.Params, op); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.service.Chapter(r.Context(), body.Name, op)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if text, isString := result.(string); isString {
		writeJSON(w, http.StatusOK, map[string]any{"result": text})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeParams fills op from raw, rejecting fields the method does not take.
func decodeParams(raw json.RawMessage, op chapter.Op) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(op); err != nil {
		if errors.Is(err, chapter.ErrInvalidVersion) || errors.Is(err, chapter.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: %s params: %v", chapter.ErrInvalidInput, op.Method(), err)
	}
	return nil
}

func (s *HTTPServer) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var params llmproxy.TranslateParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	text, err := s.service.Translate(r.Context(), params)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": text})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	text := strings.TrimSpace(values.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "q is required", nil)
		return
	}
	limit := defaultSearchLimit
	if raw := values.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive integer", nil)
			return
		}
		limit = min(parsed, maxSearchLimit)
	}
	offset := 0
	if raw := values.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be a non-negative integer", nil)
			return
		}
		offset = parsed
	}

	response := s.service.Search(r.Context(), search.Query{
		Text:       text,
		StoryTitle: strings.TrimSpace(values.Get("story")),
		Limit:      limit,
		Offset:     offset,
	})
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	domainErr := classify(err)
	if domainErr.Status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", domainErr.Code).Msg("request failed")
	}
	response := map[string]any{
		"code":  domainErr.Code,
		"error": domainErr.Message,
	}
	if domainErr.Details != nil {
		response["details"] = domainErr.Details
	}
	var limited *llmproxy.RateLimitError
	if errors.As(err, &limited) {
		response["retry_after"] = limited.RetryAfter
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfter))
	}
	writeJSON(w, domainErr.Status, response)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		requestLog := s.log.With().Str("request_id", requestID).Logger()
		r = r.WithContext(requestLog.WithContext(r.Context()))
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		requestLog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
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
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
