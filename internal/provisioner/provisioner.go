// Package provisioner selects and builds the Backend Controller a Workspace
// runs on, per spec §4.4: local mode wraps a localtemp.Controller directly;
// docker mode drives the Image Cache Pipeline to a ready-made image, then
// starts a fresh container.Controller from it.
package provisioner

import (
	"context"
	"fmt"

	"github.com/cuemby/forgebox/internal/controller"
	"github.com/cuemby/forgebox/internal/controller/container"
	"github.com/cuemby/forgebox/internal/controller/localtemp"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/internal/githubapp"
	"github.com/cuemby/forgebox/internal/imagecache"
	"github.com/cuemby/forgebox/internal/workspace"
	"github.com/cuemby/forgebox/pkg/workspacecfg"
	"github.com/docker/docker/client"
)

// Mode selects which Backend Controller a Workspace is built on.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeDocker Mode = "docker"
)

// Provisioner builds a ready Workspace (started Controller, bound
// Repository) for each new workspace id. Mode is validated eagerly at
// construction, before any provisioning work happens, per spec §4.4.
type Provisioner struct {
	mode Mode

	docker    client.APIClient
	pipeline  *imagecache.Pipeline
	baseImage string

	integration        githubapp.HostingIntegration
	disableIntegration bool
}

// New validates mode and, for docker mode, wires up a Docker API client and
// its Image Cache Pipeline. docker may be nil when mode is local.
func New(mode string, docker client.APIClient, baseImage string, integration githubapp.HostingIntegration, disableIntegration bool) (*Provisioner, error) {
	p := &Provisioner{
		integration:        integration,
		disableIntegration: disableIntegration,
		baseImage:          baseImage,
	}

	switch Mode(mode) {
	case ModeLocal:
		p.mode = ModeLocal
	case ModeDocker:
		if docker == nil {
			return nil, forgeerr.New(forgeerr.Validation, "docker provisioning mode requires a Docker API client")
		}
		p.mode = ModeDocker
		p.docker = docker
		p.pipeline = imagecache.New(docker, baseImage)
	default:
		return nil, forgeerr.Newf(forgeerr.Validation, "unknown provisioning mode %q", mode)
	}

	return p, nil
}

// Provision builds a Workspace for wctx (cloning/caching every one of its
// repositories and running its setup script with env applied), with a
// Controller appropriate to the configured mode. The returned Workspace is
// bound to wctx.Repositories[0] for the git-lifecycle operations (§4.3);
// the rest of wctx.Repositories are materialised alongside it but are only
// reachable through raw Cmd/WriteFile/ReadFile at their own paths. The
// Controller is already started (local mode runs its Init, docker mode
// starts a fresh container); the caller (internal/gateway) then calls
// Workspace.Init for the git lifecycle.
func (p *Provisioner) Provision(ctx context.Context, id string, wctx workspacecfg.WorkspaceContext, env map[string]string) (*workspace.Workspace, error) {
	if len(wctx.Repositories) == 0 {
		return nil, forgeerr.New(forgeerr.Validation, "workspace context must declare at least one repository")
	}

	var ctl controller.Controller
	var err error

	switch p.mode {
	case ModeLocal:
		ctl, err = p.provisionLocal(ctx, id, wctx, env)
	case ModeDocker:
		ctl, err = p.provisionDocker(ctx, id, wctx, env)
	default:
		return nil, forgeerr.Newf(forgeerr.Invariant, "provisioner in unknown state %q", p.mode)
	}
	if err != nil {
		return nil, err
	}

	return workspace.New(id, ctl, wctx.Repositories[0], p.integration, p.disableIntegration), nil
}

// provisionLocal materialises wctx inline, every time: no caching exists
// for the local-temp backend.
func (p *Provisioner) provisionLocal(ctx context.Context, id string, wctx workspacecfg.WorkspaceContext, env map[string]string) (controller.Controller, error) {
	ctl := localtemp.New(wctx.Name)

	if err := ctl.Init(ctx); err != nil {
		return nil, err
	}
	if err := ctl.ProvisionRepositories(ctx, wctx.Repositories); err != nil {
		return nil, forgeerr.Wrap(forgeerr.Backend, err, "failed to provision repositories")
	}

	out, err := ctl.CmdWithOutput(ctx, wctx.SetupScript, controller.CmdOptions{Env: env})
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.Backend, err, "could not run setup script")
	}
	if out.ExitCode != 0 {
		return nil, forgeerr.Newf(forgeerr.Backend, "setup script exited %d", out.ExitCode).WithOutput(out.Output)
	}

	return ctl, nil
}

// provisionDocker obtains the cached full-context image (building it if
// necessary) and starts a fresh container from it.
func (p *Provisioner) provisionDocker(ctx context.Context, id string, wctx workspacecfg.WorkspaceContext, env map[string]string) (controller.Controller, error) {
	tag, err := p.pipeline.EnsureContextImage(ctx, wctx, env)
	if err != nil {
		return nil, err
	}

	ctl, err := container.Start(ctx, p.docker, tag, fmt.Sprintf("workspace-%s", id))
	if err != nil {
		return nil, err
	}
	return ctl, nil
}
