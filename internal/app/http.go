package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"labeller/api/internal/auth"
	"labeller/api/internal/history"
	"labeller/api/internal/logging"
	"labeller/api/internal/rbac"
	"labeller/api/internal/search"
	"labeller/api/internal/taxonomy"
)

const maxBodyBytes = 8 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	slogcontext.FromCtx(r.Context()).WarnContext(r.Context(), "permission denied",
		"user", session.UserID, "role", session.Role, "required", action)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
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
		s.service.MetricsHandler().ServeHTTP(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	r = r.WithContext(logging.With(r.Context(), "user", session.UserID))

	if r.Method == http.MethodPost && r.URL.Path == "/api/class-editor/update" {
		s.handleUpdate(w, r, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/class-editor/forms" {
		s.handleForms(w, r, session)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/class-editor/schema" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		schema, err := s.service.Schema(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, schema)
		return
	}

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/class-editor/history") {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		parts := splitPath(strings.TrimPrefix(r.URL.Path, "/api/class-editor/history"))
		switch len(parts) {
		case 0:
			s.handleHistory(w, r)
		case 1:
			snapshot, err := s.service.HistorySnapshot(parts[0])
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, snapshot)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/label-classes/search" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			s.forbid(w, r, session, rbac.ActionRead)
			return
		}
		s.handleSearch(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	for _, check := range s.service.checks {
		if err := check.fn(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[check.name] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
			continue
		}
		checks[check.name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleUpdate answers every request it accepts with 200: success or
// failure is carried in the status field.
func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request, session Session) {
	action, params, err := readUpdateRequest(r)
	if err != nil {
		writeJSON(w, http.StatusOK, failedResponse(err))
		return
	}

	if required, known := actionPermissions[action]; known && !s.service.Can(session.Role, required) {
		s.forbid(w, r, session, required)
		return
	}

	res, err := s.service.Update(r.Context(), session, action, params)
	if err != nil {
		writeJSON(w, http.StatusOK, failedResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, successResponse(action, res))
}

func (s *HTTPServer) handleForms(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusOK, failedResponse(fmt.Errorf("parse form: %v: %w", err, taxonomy.ErrInvalidRequest)))
		return
	}
	action := strings.TrimSpace(r.PostForm.Get("action"))

	if required, known := actionPermissions[action]; known && !s.service.Can(session.Role, required) {
		s.forbid(w, r, session, required)
		return
	}

	id, err := s.service.SubmitForm(r.Context(), session, action, r.PostForm)
	if err != nil {
		writeJSON(w, http.StatusOK, failedResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "id": id})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}
	items, err := s.service.History(limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{Text: r.URL.Query().Get("q"), Limit: 20}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		q.Limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		q.Offset = parsed
	}
	if q.Limit < 1 || q.Limit > 100 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be between 1 and 100", nil)
		return
	}
	if q.Offset < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be non-negative", nil)
		return
	}
	if strings.TrimSpace(q.Text) == "" {
		writeJSON(w, http.StatusOK, search.Response{Results: []search.Result{}, Query: ""})
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), q))
}

// readUpdateRequest accepts a JSON body {"action", "params"} or the form
// fields action and params, where params is a JSON document.
func readUpdateRequest(r *http.Request) (string, json.RawMessage, error) {
	if r.Body == nil {
		return "", nil, fmt.Errorf("empty body: %w", taxonomy.ErrInvalidRequest)
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			Action string          `json:"action"`
			Params json.RawMessage `json:"params"`
		}
		if err := decodeBody(r, &body); err != nil {
			return "", nil, fmt.Errorf("%v: %w", err, taxonomy.ErrInvalidRequest)
		}
		params := body.Params
		// params may also arrive JSON-encoded as a string, as in the form variant.
		var encoded string
		if err := json.Unmarshal(params, &encoded); err == nil {
			params = json.RawMessage(encoded)
		}
		return strings.TrimSpace(body.Action), params, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return "", nil, fmt.Errorf("parse form: %v: %w", err, taxonomy.ErrInvalidRequest)
	}
	return strings.TrimSpace(r.PostForm.Get("action")), json.RawMessage(r.PostForm.Get("params")), nil
}

func successResponse(action string, res taxonomy.Result) map[string]any {
	response := map[string]any{"status": "success"}
	switch action {
	case ActionUpdateColourSchemes:
		response["id_mapping"] = nonNilMapping(res.IDMapping)
	case ActionUpdateLabelClassGroups:
		response["group_id_mapping"] = nonNilMapping(res.GroupIDMapping)
		response["label_class_id_mapping"] = nonNilMapping(res.LabelClassIDMapping)
	}
	return response
}

func failedResponse(err error) map[string]any {
	return map[string]any{"status": "failed", "code": failureCode(err)}
}

func nonNilMapping(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	if !s.service.AuthEnabled() {
		return Session{Role: string(rbac.RoleAdmin)}, true
	}
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := logging.With(r.Context(), "request_id", requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		slogcontext.FromCtx(ctx).InfoContext(ctx, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
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
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// failureCode names the cause of a failed class editor submission.
func failureCode(err error) string {
	switch {
	case errors.Is(err, taxonomy.ErrInvalidIdentifier):
		return "INVALID_IDENTIFIER"
	case errors.Is(err, taxonomy.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, taxonomy.ErrPreconditionViolated):
		return "PRECONDITION_VIOLATED"
	case errors.Is(err, taxonomy.ErrInvalidColour):
		return "INVALID_COLOUR"
	case errors.Is(err, taxonomy.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, taxonomy.ErrInvalidRequest), errors.Is(err, errUnknownAction):
		return "INVALID_REQUEST"
	default:
		return "SERVER_ERROR"
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, history.ErrUnknownRevision) {
		return http.StatusNotFound, "NOT_FOUND", "Revision not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
