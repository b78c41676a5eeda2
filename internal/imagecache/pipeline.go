package imagecache

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/forgebox/internal/controller"
	containerctl "github.com/cuemby/forgebox/internal/controller/container"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/pkg/log"
	"github.com/cuemby/forgebox/pkg/metrics"
	"github.com/cuemby/forgebox/pkg/workspacecfg"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Pipeline drives the two-level image cache against a single Docker daemon.
type Pipeline struct {
	docker    client.APIClient
	baseImage string
}

// New creates a Pipeline. baseImage is used as-is: the Pipeline never pulls
// it, so it must already be present in the Docker daemon's image store.
func New(docker client.APIClient, baseImage string) *Pipeline {
	return &Pipeline{docker: docker, baseImage: baseImage}
}

func sanitizeTag(s string) string {
	return strings.ReplaceAll(s, "/", "-")
}

func (p *Pipeline) imageExists(ctx context.Context, tag string) bool {
	_, err := p.docker.ImageInspect(ctx, tag)
	hit := err == nil
	metrics.RecordImageCache(hit)
	return hit
}

// EnsureRepositoriesImage returns the tag of an image that already has
// repos cloned at their paths, building it if it doesn't exist yet. The
// build is guarded by a cheap image-inspect; a concurrent duplicate build
// is tolerated (last commit to the tag wins), never an error for the
// caller whose build "lost" the race.
func (p *Pipeline) EnsureRepositoriesImage(ctx context.Context, repos []workspacecfg.Repository) (string, error) {
	tag := fmt.Sprintf("%s-cache-%s", sanitizeTag(p.baseImage), RepositoriesKey(repos))

	if p.imageExists(ctx, tag) {
		log.WithComponent("imagecache").Debug().Str("image", tag).Msg("repositories image already exists")
		return tag, nil
	}

	log.WithComponent("imagecache").Info().Str("image", tag).Msg("building repositories image")

	ctl, err := containerctl.Start(ctx, p.docker, p.baseImage, tag)
	if err != nil {
		return "", err
	}
	defer func() { _ = ctl.Stop(ctx) }()

	if err := ctl.ProvisionRepositories(ctx, repos); err != nil {
		return "", forgeerr.Wrap(forgeerr.Backend, err, "failed to provision repositories into cache layer")
	}

	if _, err := p.docker.ContainerCommit(ctx, ctl.ContainerID(), container.CommitOptions{Reference: tag}); err != nil {
		return "", forgeerr.Wrapf(forgeerr.Backend, err, "could not commit repositories image %q", tag)
	}

	return tag, nil
}

// EnsureContextImage builds (or reuses) the full-context image: the
// repositories image with the setup script executed on top. If the setup
// script exits non-zero, the partial image is not committed and the error
// carries the captured output.
func (p *Pipeline) EnsureContextImage(ctx context.Context, wctx workspacecfg.WorkspaceContext, env map[string]string) (string, error) {
	tag := fmt.Sprintf("%s-%s-cache-%s", wctx.Name, sanitizeTag(p.baseImage), ContextKey(wctx, env))

	if p.imageExists(ctx, tag) {
		log.WithComponent("imagecache").Debug().Str("image", tag).Msg("context image already exists")
		return tag, nil
	}

	log.WithComponent("imagecache").Info().Str("image", tag).Msg("building context image")

	baseImage, err := p.EnsureRepositoriesImage(ctx, wctx.Repositories)
	if err != nil {
		return "", err
	}

	ctl, err := containerctl.Start(ctx, p.docker, baseImage, wctx.Name)
	if err != nil {
		return "", err
	}
	defer func() { _ = ctl.Stop(ctx) }()

	if err := ctl.WriteFile(ctx, "/tmp/setup.sh", []byte(wctx.SetupScript), ""); err != nil {
		return "", err
	}
	if err := ctl.Cmd(ctx, "chmod +x /tmp/setup.sh", controller.CmdOptions{}); err != nil {
		return "", err
	}

	out, err := ctl.CmdWithOutput(ctx, "/tmp/setup.sh", controller.CmdOptions{Env: env})
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.Backend, err, "could not run setup script")
	}
	if out.ExitCode != 0 {
		return "", forgeerr.Newf(forgeerr.Backend, "setup script exited %d", out.ExitCode).WithOutput(out.Output)
	}

	if _, err := p.docker.ContainerCommit(ctx, ctl.ContainerID(), container.CommitOptions{Reference: tag}); err != nil {
		return "", forgeerr.Wrapf(forgeerr.Backend, err, "could not commit context image %q", tag)
	}

	return tag, nil
}
