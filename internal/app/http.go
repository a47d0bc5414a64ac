package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"huddle/api/internal/auth"
)

type requestIDKey struct{}

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	maxUploadBytes int64
	log            *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPServer{
		service:        service,
		corsOrigin:     corsOrigin,
		maxUploadBytes: service.cfg.MaxUploadBytes,
		log:            log.Named("http"),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/ready" {
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
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 2 && parts[0] == "search" && parts[1] == "users" && r.Method == http.MethodGet:
		users, err := s.service.SearchUsers(r.Context(), principal, r.URL.Query().Get("q"), r.URL.Query().Get("channelId"))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case len(parts) >= 1 && parts[0] == "channels":
		s.handleChannels(w, r, principal, parts[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleChannels(w http.ResponseWriter, r *http.Request, principal auth.Principal, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		items, err := s.service.ListChannels(ctx, principal)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	if len(parts) == 1 && parts[0] == "create" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.CreateChannel(ctx, principal, body.Name)
		s.writeMutation(w, r, http.StatusCreated, result, err, true)
		return
	}

	channelID := parts[0]
	rest := parts[1:]

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		view, err := s.service.GetChannel(ctx, principal, channelID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(rest) == 1 && rest[0] == "members" && r.Method == http.MethodGet:
		members, err := s.service.ChannelMembers(ctx, principal, channelID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, members)

	case len(rest) == 1 && rest[0] == "isAdmin" && r.Method == http.MethodGet:
		isAdmin, err := s.service.IsAdmin(ctx, principal, channelID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"isAdmin": isAdmin})

	case len(rest) == 1 && rest[0] == "messages" && r.Method == http.MethodGet:
		messages, err := s.service.ListMessages(ctx, principal, channelID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})

	case len(rest) == 1 && rest[0] == "messages" && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SendMessage(ctx, principal, channelID, body.Content, nil)
		s.writeMutation(w, r, http.StatusCreated, result, err, false)

	case len(rest) == 1 && rest[0] == "files" && r.Method == http.MethodPost:
		s.handleUpload(w, r, principal, channelID)

	case len(rest) == 2 && rest[0] == "messages" && r.Method == http.MethodPatch:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.EditMessage(ctx, principal, channelID, rest[1], body.Content)
		s.writeMutation(w, r, http.StatusOK, result, err, false)

	case len(rest) == 2 && rest[0] == "messages" && r.Method == http.MethodDelete:
		result, err := s.service.DeleteMessage(ctx, principal, channelID, rest[1])
		s.writeMutation(w, r, http.StatusOK, result, err, false)

	case len(rest) == 1 && rest[0] == "leave" && r.Method == http.MethodPost:
		result, err := s.service.LeaveChannel(ctx, principal, channelID)
		s.writeMutation(w, r, http.StatusOK, result, err, false)

	case len(rest) == 2 && r.Method == http.MethodPost:
		var (
			result MutationResult
			err    error
		)
		switch rest[0] {
		case "addMember":
			result, err = s.service.AddMember(ctx, principal, channelID, rest[1])
		case "removeMember":
			result, err = s.service.RemoveMember(ctx, principal, channelID, rest[1])
		case "makeAdmin":
			result, err = s.service.MakeAdmin(ctx, principal, channelID, rest[1])
		case "removeAdmin":
			result, err = s.service.RemoveAdmin(ctx, principal, channelID, rest[1])
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
			return
		}
		s.writeMutation(w, r, http.StatusOK, result, err, false)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// multipartOverhead leaves room for boundaries and headers around the file.
const multipartOverhead = 1 << 20

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, principal auth.Principal, channelID string) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "File is too large", map[string]int64{"maxBytes": s.maxUploadBytes})
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Multipart field \"file\" is required", nil)
		return
	}
	defer file.Close()

	result, err := s.service.UploadFile(r.Context(), principal, channelID, header.Filename, file, header.Size)
	s.writeMutation(w, r, http.StatusCreated, result, err, false)
}

func (s *HTTPServer) writeMutation(w http.ResponseWriter, r *http.Request, status int, result MutationResult, err error, flatten bool) {
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	if flatten {
		writeJSON(w, status, result.Data)
		return
	}
	writeJSON(w, status, map[string]any{"message": result.Summary, "data": result.Data})
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Principal{}, false
	}
	principal, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		s.writeMappedError(w, r, err)
		return auth.Principal{}, false
	}
	return principal, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
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

		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

// RequestID returns the id the middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Request-ID")
	header.Set("Vary", "Origin")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusNoContent {
		return
	}
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

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
