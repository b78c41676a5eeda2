// Package gateway implements the Workspace Registry & Command Gateway: a
// concurrency-safe map of live workspaces, addressable by id, that delegates
// every command/file operation to the named Workspace without ever holding
// the registry lock across that delegation. Spec §4.5 / §5.
package gateway

import (
	"context"
	"sync"

	"github.com/cuemby/forgebox/internal/controller"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/internal/provisioner"
	"github.com/cuemby/forgebox/internal/workspace"
	"github.com/cuemby/forgebox/pkg/log"
	"github.com/cuemby/forgebox/pkg/metrics"
	"github.com/cuemby/forgebox/pkg/workspacecfg"
	"github.com/google/uuid"
)

// Gateway owns every live Workspace, all provisioned from the single
// WorkspaceContext the process was started with (spec §6: --workspace-config-path
// names one config file for the whole process's lifetime). The RWMutex is
// taken only around map reads and writes; the (possibly slow) underlying
// workspace operation always runs with the lock released, so two workspaces
// never block each other.
type Gateway struct {
	provisioner *provisioner.Provisioner
	context     workspacecfg.WorkspaceContext

	mu         sync.RWMutex
	workspaces map[string]*workspace.Workspace
}

// New creates an empty Gateway bound to a Provisioner and the WorkspaceContext
// every created workspace is provisioned from.
func New(p *provisioner.Provisioner, wctx workspacecfg.WorkspaceContext) *Gateway {
	return &Gateway{
		provisioner: p,
		context:     wctx,
		workspaces:  make(map[string]*workspace.Workspace),
	}
}

// CreateWorkspace provisions a Controller for the gateway's WorkspaceContext
// via the Provisioner, with env overlaid on top of the setup script's
// environment, wraps it in a Workspace, initializes it, and registers it
// under a fresh random id.
func (g *Gateway) CreateWorkspace(ctx context.Context, env map[string]string) (string, error) {
	id := uuid.NewString()
	logger := log.WithWorkspaceID(id)

	timer := metrics.NewTimer()
	ws, err := g.provisioner.Provision(ctx, id, g.context, env)
	timer.ObserveDuration(metrics.ProvisionDuration)
	if err != nil {
		return "", err
	}

	if err := ws.Init(ctx); err != nil {
		_ = ws.Stop(ctx)
		return "", err
	}

	g.mu.Lock()
	g.workspaces[id] = ws
	g.mu.Unlock()

	metrics.WorkspacesActive.Set(float64(g.count()))
	logger.Info().Msg("workspace created")
	return id, nil
}

// DestroyWorkspace stops and removes the workspace, returning true. If id is
// unknown it returns (false, nil) rather than an error, per spec §4.5 (unlike
// every other lookup below, which treats a missing id as NotFound).
func (g *Gateway) DestroyWorkspace(ctx context.Context, id string) (bool, error) {
	g.mu.Lock()
	ws, ok := g.workspaces[id]
	if ok {
		delete(g.workspaces, id)
	}
	g.mu.Unlock()

	if !ok {
		return false, nil
	}

	metrics.WorkspacesActive.Set(float64(g.count()))
	return true, ws.Stop(ctx)
}

// ListWorkspaces returns the ids of every currently-registered workspace.
func (g *Gateway) ListWorkspaces() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.workspaces))
	for id := range g.workspaces {
		ids = append(ids, id)
	}
	return ids
}

func (g *Gateway) get(id string) (*workspace.Workspace, error) {
	g.mu.RLock()
	ws, ok := g.workspaces[id]
	g.mu.RUnlock()

	if !ok {
		return nil, forgeerr.Newf(forgeerr.NotFound, "no workspace with id %q", id)
	}
	return ws, nil
}

// Cmd delegates to the named workspace's Cmd.
func (g *Gateway) Cmd(ctx context.Context, id, cmd string, opts controller.CmdOptions) error {
	ws, err := g.get(id)
	if err != nil {
		return err
	}
	err = ws.Cmd(ctx, cmd, opts)
	metrics.RecordCommand(err == nil)
	return err
}

// CmdWithOutput delegates to the named workspace's CmdWithOutput.
func (g *Gateway) CmdWithOutput(ctx context.Context, id, cmd string, opts controller.CmdOptions) (workspacecfg.CommandOutput, error) {
	ws, err := g.get(id)
	if err != nil {
		return workspacecfg.CommandOutput{}, err
	}
	out, err := ws.CmdWithOutput(ctx, cmd, opts)
	metrics.RecordCommand(err == nil)
	return out, err
}

// WriteFile delegates to the named workspace's WriteFile.
func (g *Gateway) WriteFile(ctx context.Context, id, path string, content []byte, workingDir string) error {
	ws, err := g.get(id)
	if err != nil {
		return err
	}
	return ws.WriteFile(ctx, path, content, workingDir)
}

// ReadFile delegates to the named workspace's ReadFile.
func (g *Gateway) ReadFile(ctx context.Context, id, path, workingDir string) ([]byte, error) {
	ws, err := g.get(id)
	if err != nil {
		return nil, err
	}
	return ws.ReadFile(ctx, path, workingDir)
}

func (g *Gateway) count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.workspaces)
}
