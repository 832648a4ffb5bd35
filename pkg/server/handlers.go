package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/entrhq/dencho/pkg/automation"
	"github.com/entrhq/dencho/pkg/orchestrator"
)

// Response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// maxBodyBytes bounds the optional download request body.
const maxBodyBytes = 64 << 10

// Response is the JSON body of every download answer.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is the JSON body of /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DownloadRequest is the optional JSON body of POST /api/download.
type DownloadRequest struct {
	GithubUsername string `json:"githubUsername"`
	GithubPassword string `json:"githubPassword"`
}

// RouteHandler is a function type for HTTP handlers
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps HTTP methods to handlers
type MethodRouter map[string]RouteHandler

// RouteByMethod routes requests based on HTTP method; other methods get a
// 405 error payload.
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		methods := make([]string, 0, len(routes))
		for m := range routes {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		w.Header().Set("Allow", strings.Join(methods, ", "))
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	handler(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		},
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodPost: s.download,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r)

	body, err := decodeDownloadRequest(r)
	if err != nil {
		log.Warnf("rejected download request: %v", err)
		writeError(w, http.StatusBadRequest, "request body must be empty or a JSON object")
		return
	}

	log.Infof("download requested")
	out := s.downloader.RequestDownload(r.Context(), orchestrator.Request{
		ID: requestID(r.Context()),
		Credentials: automation.Credentials{
			Username: body.GithubUsername,
			Password: body.GithubPassword,
		},
	})

	status, resp := responseFor(out)
	writeJSON(w, status, resp)
}

// decodeDownloadRequest reads the optional body. An empty body is valid.
func decodeDownloadRequest(r *http.Request) (DownloadRequest, error) {
	var req DownloadRequest
	if r.Body == nil {
		return req, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return req, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > maxBodyBytes {
		return req, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("invalid JSON body: %w", err)
	}
	return req, nil
}

// responseFor maps an outcome onto the HTTP contract. Messages carry the
// error kind and its caller-safe detail, never causes or directories.
func responseFor(out orchestrator.Outcome) (int, Response) {
	switch {
	case out.Busy:
		return http.StatusConflict, Response{
			Status:  StatusError,
			Message: "a download is already in progress",
		}
	case out.Succeeded():
		return http.StatusOK, Response{
			Status:  StatusSuccess,
			Message: fmt.Sprintf("invoice downloaded: %s", filepath.Base(out.Path)),
		}
	default:
		return http.StatusInternalServerError, Response{
			Status:  StatusError,
			Message: fmt.Sprintf("%s: %s", out.Err.Kind, out.Err.Detail),
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Status: StatusError, Message: message})
}
