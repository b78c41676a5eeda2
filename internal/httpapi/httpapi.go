// Package httpapi is the boundary adapter fixed by spec §6: it translates
// JSON/Base64 HTTP envelopes into Gateway calls and back. It is deliberately
// thin: validation and business logic live in internal/gateway and below,
// this package only decodes, dispatches, and maps forgeerr.Kind to a status
// code. Routing uses a plain net/http.ServeMux (Go's method+pattern
// routing), no router dependency.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/forgebox/internal/controller"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/internal/gateway"
	"github.com/cuemby/forgebox/pkg/log"
)

// Server wires a Gateway to the HTTP surface.
type Server struct {
	gateway *gateway.Gateway
	mux     *http.ServeMux
}

// New builds the boundary adapter's handler set.
func New(gw *gateway.Gateway) *Server {
	s := &Server{gateway: gw, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /workspaces", s.createWorkspace)
	s.mux.HandleFunc("GET /workspaces", s.listWorkspaces)
	s.mux.HandleFunc("DELETE /workspaces/{id}", s.destroyWorkspace)
	s.mux.HandleFunc("POST /workspaces/{id}/cmd", s.cmd)
	s.mux.HandleFunc("POST /workspaces/{id}/cmd_with_output", s.cmdWithOutput)
	s.mux.HandleFunc("POST /workspaces/{id}/write_file", s.writeFile)
	s.mux.HandleFunc("POST /workspaces/{id}/read_file", s.readFile)
	s.mux.HandleFunc("GET /health", s.health)

	return s
}

// Handler returns the http.Handler to mount on a *http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type createWorkspaceRequest struct {
	Env map[string]string `json:"env,omitempty"`
}

type workspaceIDResponse struct {
	ID string `json:"id"`
}

type workspaceListEntry struct {
	ID string `json:"id"`
}

type workspaceListResponse struct {
	Workspaces []workspaceListEntry `json:"workspaces"`
}

type cmdRequest struct {
	Cmd        string            `json:"cmd"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Timeout    int               `json:"timeout,omitempty"`
}

type cmdWithOutputResponse struct {
	Output   string `json:"output"`
	ExitCode int32  `json:"exit_code"`
}

type writeFileRequest struct {
	Path       string `json:"path"`
	WorkingDir string `json:"working_dir,omitempty"`
	Content    string `json:"content"`
}

type writeFileResponse struct {
	Success bool `json:"success"`
}

type readFileRequest struct {
	Path       string `json:"path"`
	WorkingDir string `json:"working_dir,omitempty"`
}

type healthResponse struct {
	Healthy bool `json:"healthy"`
}

func (req cmdRequest) options() controller.CmdOptions {
	opts := controller.CmdOptions{WorkingDir: req.WorkingDir, Env: req.Env}
	if req.Timeout > 0 {
		opts.Timeout = time.Duration(req.Timeout) * time.Second
	}
	return opts
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := s.gateway.CreateWorkspace(r.Context(), req.Env)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workspaceIDResponse{ID: id})
}

func (s *Server) destroyWorkspace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existed, err := s.gateway.DestroyWorkspace(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existed)
}

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	ids := s.gateway.ListWorkspaces()
	entries := make([]workspaceListEntry, len(ids))
	for i, id := range ids {
		entries[i] = workspaceListEntry{ID: id}
	}
	writeJSON(w, http.StatusOK, workspaceListResponse{Workspaces: entries})
}

func (s *Server) cmd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req cmdRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.gateway.Cmd(r.Context(), id, req.Cmd, req.options()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) cmdWithOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req cmdRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := s.gateway.CmdWithOutput(r.Context(), id, req.Cmd, req.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmdWithOutputResponse{Output: string(out.Output), ExitCode: out.ExitCode})
}

func (s *Server) writeFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req writeFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	content, err := base64.StdEncoding.DecodeString(strings.TrimRight(req.Content, " \t\r\n"))
	if err != nil {
		writeError(w, forgeerr.Wrap(forgeerr.Validation, err, "content is not valid base64"))
		return
	}

	if err := s.gateway.WriteFile(r.Context(), id, req.Path, content, req.WorkingDir); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, writeFileResponse{Success: true})
}

func (s *Server) readFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req readFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	content, err := s.gateway.ReadFile(r.Context(), id, req.Path, req.WorkingDir)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Healthy: true})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, forgeerr.Wrap(forgeerr.Validation, err, "could not read request body"))
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, forgeerr.Wrap(forgeerr.Validation, err, "could not decode request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps a forgeerr.Kind to the HTTP status spec §7 assigns it.
func statusFor(kind forgeerr.Kind) int {
	switch kind {
	case forgeerr.Validation:
		return http.StatusBadRequest
	case forgeerr.NotFound:
		return http.StatusNotFound
	case forgeerr.CommandFailure:
		return http.StatusUnprocessableEntity
	case forgeerr.Integration:
		return http.StatusBadGateway
	case forgeerr.Backend, forgeerr.Invariant:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind, ok := forgeerr.KindOf(err)
	if !ok {
		kind = forgeerr.Backend
	}

	log.WithComponent("httpapi").Error().Err(err).Str("kind", kind.String()).Msg("request failed")

	writeJSON(w, statusFor(kind), struct {
		Error string `json:"error"`
	}{Error: log.Scrub(err.Error())})
}
