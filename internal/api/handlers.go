package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/skylens-data/flightpath.report/internal/geo"
	"github.com/skylens-data/flightpath.report/internal/httputil"
	"github.com/skylens-data/flightpath.report/internal/remotefs"
	"github.com/skylens-data/flightpath.report/internal/scene"
	"github.com/skylens-data/flightpath.report/internal/site"
	"github.com/skylens-data/flightpath.report/internal/version"
)

type createSessionRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type analyzeRequest struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}

// analyzeResponse is the full result document: the per-folder analysis, the
// outlier classification over its points, and the scene built from both.
type analyzeResponse struct {
	Analysis       *site.Analysis     `json:"analysis"`
	Classification geo.Classification `json:"classification"`
	Scene          *scene.Scene       `json:"scene"`
}

// analysisSummary is what the admin last-analysis route reports.
type analysisSummary struct {
	SessionID      string    `json:"session_id"`
	Root           string    `json:"root"`
	CompletedAt    time.Time `json:"completed_at"`
	Images         int       `json:"images"`
	Points         int       `json:"points"`
	Outliers       int       `json:"outliers"`
	FailedFolders  []string  `json:"failed_folders,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if req.Host == "" || req.Username == "" || req.Password == "" {
		httputil.BadRequest(w, "host, username and password are required")
		return
	}
	if req.Port == 0 {
		req.Port = remotefs.DefaultPort
	}

	params := remotefs.DialParams{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Secret:   req.Password,
	}

	// Prove the credentials with one dial before issuing an identity.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.GetConnectTimeout())
	defer cancel()
	probe, err := s.dialer.Dial(ctx, params, s.cfg.GetConnectTimeout())
	if err != nil {
		httputil.Unauthorized(w, fmt.Sprintf("connection failed: %v", err))
		return
	}
	probe.Close()

	reg := s.registry.Add(params)
	httputil.WriteJSONOK(w, map[string]string{"session_id": reg.ID})
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		httputil.MethodNotAllowed(w)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		httputil.BadRequest(w, "invalid session id")
		return
	}

	reg, ok := s.registry.Remove(id)
	if !ok {
		httputil.NotFound(w, "session not found")
		return
	}
	s.cache.Invalidate(reg.PoolKey())
	httputil.WriteJSONOK(w, map[string]string{"status": "deleted"})
}

func (s *Server) analyzeSite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	resp, status, err := s.runAnalysis(r.Context(), req.SessionID, req.Path)
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showScene(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	resp, status, err := s.runAnalysis(r.Context(), q.Get("session_id"), q.Get("path"))
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return
	}

	// Render to a buffer first so a chart failure can still produce a
	// clean JSON error instead of a torn page.
	var buf bytes.Buffer
	if err := scene.RenderHTML(resp.Scene, &buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("rendering scene: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// runAnalysis resolves the session, runs the analysis under the configured
// outer timeout, and classifies and builds the scene for the result. The
// returned status is the HTTP code to send when err is non-nil.
func (s *Server) runAnalysis(rctx context.Context, sessionID, root string) (*analyzeResponse, int, error) {
	if sessionID == "" {
		return nil, http.StatusBadRequest, errors.New("session_id is required")
	}
	if root == "" {
		return nil, http.StatusBadRequest, errors.New("path is required")
	}

	reg, err := s.registry.Lookup(sessionID)
	switch {
	case errors.Is(err, remotefs.ErrSessionNotFound):
		return nil, http.StatusNotFound, errors.New("session not found")
	case errors.Is(err, remotefs.ErrSessionExpired):
		// The identity is gone; any pool cached under it goes too.
		s.cache.Invalidate(reg.PoolKey())
		return nil, http.StatusUnauthorized, errors.New("session expired, re-register")
	case err != nil:
		return nil, http.StatusInternalServerError, err
	}

	ctx, cancel := context.WithTimeout(rctx, s.cfg.GetAnalyzeTimeout())
	defer cancel()

	analysis, err := s.analyzer.Analyze(ctx, *reg, root)
	if err != nil {
		switch {
		case errors.Is(err, site.ErrInvalidRoot):
			return nil, http.StatusBadRequest, err
		case errors.Is(err, remotefs.ErrNotExist):
			return nil, http.StatusNotFound, err
		case errors.Is(err, context.DeadlineExceeded):
			return nil, http.StatusGatewayTimeout, errors.New("analysis timed out")
		default:
			return nil, http.StatusInternalServerError, err
		}
	}

	// A batch that ran out the outer deadline can still return partial
	// folders; the caller asked for a bounded answer, so expiry is a
	// timeout regardless.
	if ctx.Err() == context.DeadlineExceeded {
		return nil, http.StatusGatewayTimeout, errors.New("analysis timed out")
	}

	classification := geo.Classify(analysis.Points(), geo.OptionsFrom(s.cfg))
	resp := &analyzeResponse{
		Analysis:       analysis,
		Classification: classification,
		Scene:          scene.Build(analysis, classification),
	}
	s.recordAnalysis(sessionID, analysis, classification)
	return resp, http.StatusOK, nil
}

func (s *Server) recordAnalysis(sessionID string, a *site.Analysis, c geo.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &analysisSummary{
		SessionID:      sessionID,
		Root:           a.Root,
		CompletedAt:    time.Now().UTC(),
		Images:         a.TotalImages,
		Points:         len(c.Points),
		Outliers:       c.Outliers,
		FailedFolders:  a.FailedFolders,
		ElapsedSeconds: a.ElapsedSeconds,
	}
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}
