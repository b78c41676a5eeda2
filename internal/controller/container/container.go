// Package container implements the Controller over the Docker Engine API:
// one long-lived container per workspace, commands run through exec, files
// moved in and out via tar streaming. This is the controller used by
// --provisioning-mode docker and the one the Image Cache Pipeline
// (internal/imagecache) builds and commits layered derivative images for.
package container

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cuemby/forgebox/internal/controller"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/internal/shellquote"
	"github.com/cuemby/forgebox/pkg/log"
	"github.com/cuemby/forgebox/pkg/workspacecfg"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// state models the lifecycle in spec §4.1: Uninit -> Running -> Stopped.
type state int32

const (
	stateUninit state = iota
	stateRunning
	stateStopped
)

// Controller drives a single Docker container for the lifetime of one
// workspace.
type Controller struct {
	docker      client.APIClient
	containerID string

	state atomic.Int32
}

var _ controller.Controller = (*Controller)(nil)

// Attach wraps an already-created, already-started container. Callers that
// build the container themselves (the image cache pipeline, when committing
// a layer) use this directly; Start is the common path for a fresh
// workspace.
func Attach(docker client.APIClient, containerID string) *Controller {
	c := &Controller{docker: docker, containerID: containerID}
	c.state.Store(int32(stateRunning))
	return c
}

// Start creates and starts a new container named "<name>-<random>" from
// image, with a TTY so a long-running shell does not exit.
func Start(ctx context.Context, docker client.APIClient, image, name string) (*Controller, error) {
	resp, err := docker.ContainerCreate(ctx, &container.Config{
		Image: image,
		Tty:   true,
	}, nil, nil, nil, containerName(name))
	if err != nil {
		return nil, forgeerr.Wrapf(forgeerr.Backend, err, "could not create container from image %q", image)
	}

	if err := docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, forgeerr.Wrapf(forgeerr.Backend, err, "could not start container %q", resp.ID)
	}

	log.WithComponent("controller.container").Debug().Str("container_id", resp.ID).Str("image", image).Msg("started container")

	c := &Controller{docker: docker, containerID: resp.ID}
	c.state.Store(int32(stateRunning))
	return c, nil
}

func containerName(name string) string {
	return fmt.Sprintf("%s-%s", name, randomSuffix())
}

// ContainerID returns the underlying Docker container id. Exposed so the
// image cache pipeline can commit it without re-deriving the controller's
// internals.
func (c *Controller) ContainerID() string {
	return c.containerID
}

// Init is a no-op: the container is already created and started by Start
// (or Attach) before a Controller is handed to a Workspace. A second call
// is still safe.
func (c *Controller) Init(_ context.Context) error {
	if state(c.state.Load()) == stateUninit {
		c.state.Store(int32(stateRunning))
	}
	return nil
}

// Stop force-removes the container. Idempotent; safe to call concurrently
// with itself.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(stateRunning), int32(stateStopped)) {
		return nil
	}
	if err := c.docker.ContainerRemove(ctx, c.containerID, container.RemoveOptions{Force: true}); err != nil {
		return forgeerr.Wrapf(forgeerr.Backend, err, "could not remove container %q", c.containerID)
	}
	return nil
}

func (c *Controller) requireRunning() error {
	if state(c.state.Load()) != stateRunning {
		return forgeerr.New(forgeerr.Invariant, "controller is not running")
	}
	return nil
}

// resolveWorkingDir strips a leading "/" so an absolute-looking working_dir
// is still treated as relative to the workspace root, per spec §4.1.
func resolveWorkingDir(workingDir string) string {
	return strings.TrimPrefix(workingDir, "/")
}

func (c *Controller) run(ctx context.Context, cmd string, opts controller.CmdOptions) (workspacecfg.CommandOutput, error) {
	if err := c.requireRunning(); err != nil {
		return workspacecfg.CommandOutput{}, err
	}

	logger := log.WithComponent("controller.container")
	logger.Debug().Str("cmd", log.Scrub(cmd)).Str("container_id", c.containerID).Msg("running command")

	if dir := resolveWorkingDir(opts.WorkingDir); dir != "" {
		cmd = fmt.Sprintf("cd %s && %s", shellquote.Quote(dir), cmd)
	}

	var execCmd []string
	if opts.Timeout > 0 {
		execCmd = []string{"timeout", strconv.FormatInt(int64(opts.Timeout.Seconds()), 10), "bash", "-c", cmd}
	} else {
		execCmd = []string{"bash", "-c", cmd}
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	execCreate, err := c.docker.ContainerExecCreate(ctx, c.containerID, container.ExecOptions{
		Cmd:          execCmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return workspacecfg.CommandOutput{}, forgeerr.Wrap(forgeerr.Backend, err, "could not create exec")
	}

	attach, err := c.docker.ContainerExecAttach(ctx, execCreate.ID, container.ExecAttachOptions{})
	if err != nil {
		return workspacecfg.CommandOutput{}, forgeerr.Wrap(forgeerr.Backend, err, "could not attach to exec")
	}
	defer attach.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, attach.Reader); err != nil && err != io.EOF {
		return workspacecfg.CommandOutput{}, forgeerr.Wrap(forgeerr.Backend, err, "could not read exec output")
	}

	inspect, err := c.docker.ContainerExecInspect(ctx, execCreate.ID)
	if err != nil {
		return workspacecfg.CommandOutput{}, forgeerr.Wrap(forgeerr.Backend, err, "could not inspect exec")
	}

	return workspacecfg.CommandOutput{Output: combined.Bytes(), ExitCode: int32(inspect.ExitCode)}, nil
}

// Cmd runs cmd and fails unless it exits zero.
func (c *Controller) Cmd(ctx context.Context, cmd string, opts controller.CmdOptions) error {
	out, err := c.run(ctx, cmd, opts)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return forgeerr.Newf(forgeerr.CommandFailure, "command %q exited %d: %s", log.Scrub(cmd), out.ExitCode, out.Output).WithOutput(out.Output)
	}
	return nil
}

// CmdWithOutput runs cmd and always returns its output, regardless of exit
// code.
func (c *Controller) CmdWithOutput(ctx context.Context, cmd string, opts controller.CmdOptions) (workspacecfg.CommandOutput, error) {
	return c.run(ctx, cmd, opts)
}

// WriteFile packs content into a single-entry tar at mode 0644 and uploads
// it with CopyToContainer. CopyToContainer requires the destination
// directory to already exist, so any missing parent directories are created
// with a mkdir -p first.
func (c *Controller) WriteFile(ctx context.Context, path string, content []byte, workingDir string) error {
	if err := c.requireRunning(); err != nil {
		return err
	}

	dir := resolveWorkingDir(workingDir)
	base := path
	destDir := "/"
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
		destDir = path[:idx+1]
	}
	if dir != "" {
		destDir = "/" + strings.TrimSuffix(dir, "/") + "/" + strings.TrimPrefix(destDir, "/")
	}

	if err := c.Cmd(ctx, fmt.Sprintf("mkdir -p %s", shellquote.Quote(destDir)), controller.CmdOptions{}); err != nil {
		return err
	}

	archive, err := singleFileTar(base, content)
	if err != nil {
		return forgeerr.Wrap(forgeerr.Backend, err, "could not build tar archive")
	}

	if err := c.docker.CopyToContainer(ctx, c.containerID, destDir, archive, container.CopyToContainerOptions{}); err != nil {
		return forgeerr.Wrapf(forgeerr.Backend, err, "could not write file %q", path)
	}
	return nil
}

// ReadFile downloads a tar containing path and extracts its single entry.
func (c *Controller) ReadFile(ctx context.Context, path string, workingDir string) ([]byte, error) {
	if err := c.requireRunning(); err != nil {
		return nil, err
	}

	dir := resolveWorkingDir(workingDir)
	full := path
	if dir != "" {
		full = strings.TrimSuffix(dir, "/") + "/" + strings.TrimPrefix(path, "/")
	}

	reader, _, err := c.docker.CopyFromContainer(ctx, c.containerID, full)
	if err != nil {
		return nil, forgeerr.Wrapf(forgeerr.NotFound, err, "could not read file %q", path)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	if _, err := tr.Next(); err != nil {
		return nil, forgeerr.Wrapf(forgeerr.NotFound, err, "file %q not found in archive", path)
	}
	content, err := io.ReadAll(tr)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.Backend, err, "could not read tar entry")
	}
	return content, nil
}

func singleFileTar(name string, content []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// ProvisionRepositories ensures every listed repository is cloned (or
// refreshed) at its Path, then removes the origin remote so an embedded
// credential never persists in the on-disk git config. Ported from the
// original implementation's docker-backed provision_repositories.
func (c *Controller) ProvisionRepositories(ctx context.Context, repos []workspacecfg.Repository) error {
	logger := log.WithComponent("controller.container")
	for _, repo := range repos {
		path := strings.TrimSuffix(repo.Path, "/")
		logger.Debug().Str("repository", log.Scrub(repo.URL)).Str("path", path).Msg("provisioning repository")

		listing, err := c.CmdWithOutput(ctx, fmt.Sprintf("ls %s/.git", shellquote.Quote(path)), controller.CmdOptions{})
		if err != nil {
			return err
		}
		hasRepository := listing.ExitCode == 0 && bytes.Contains(listing.Output, []byte("config"))

		if !hasRepository {
			if err := c.Cmd(ctx, fmt.Sprintf("mkdir -p %s", shellquote.Quote(path)), controller.CmdOptions{}); err != nil {
				return err
			}
			cloneCmd := fmt.Sprintf("git clone %s %s", shellquote.Quote(repo.URL), shellquote.Quote(path))
			if repo.Reference != "" {
				cloneCmd += fmt.Sprintf(" --branch %s", shellquote.Quote(repo.Reference))
			}
			if err := c.Cmd(ctx, cloneCmd, controller.CmdOptions{}); err != nil {
				return err
			}
		} else {
			addRemote := fmt.Sprintf("cd %s && git remote add origin %s", shellquote.Quote(path), shellquote.Quote(repo.URL))
			if err := c.Cmd(ctx, addRemote, controller.CmdOptions{}); err != nil {
				return err
			}
			if err := c.Cmd(ctx, fmt.Sprintf("cd %s && git pull origin HEAD", shellquote.Quote(path)), controller.CmdOptions{}); err != nil {
				return err
			}
		}

		removeRemote := fmt.Sprintf("cd %s && git remote remove origin", shellquote.Quote(path))
		if err := c.Cmd(ctx, removeRemote, controller.CmdOptions{}); err != nil {
			return err
		}
	}
	return nil
}
