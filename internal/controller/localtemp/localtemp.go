// Package localtemp implements the Controller over a plain temporary
// directory on the host running forgebox. It has no external dependency
// beyond bash and git, and is the controller used by --provisioning-mode
// local: useful for debugging, fast iteration, and integration tests that
// would rather not talk to a container daemon.
package localtemp

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/cuemby/forgebox/internal/controller"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/internal/shellquote"
	"github.com/cuemby/forgebox/pkg/log"
	"github.com/cuemby/forgebox/pkg/workspacecfg"
)

// allowedEnvPrefixes lists the host environment variables (by exact name or
// prefix) that are propagated into every command this backend runs, on top
// of whatever the caller supplies. Unlike the container backend there is no
// image to bake a toolchain into, so the host's own PATH and any
// operator-configured build toolchain variables need to come through.
var (
	allowedEnvNames = map[string]bool{
		"PATH": true,
	}
	allowedEnvPrefixes = []string{"FORGEBOX_BUILD_"}
)

func isAllowedEnv(key string) bool {
	if allowedEnvNames[key] {
		return true
	}
	for _, prefix := range allowedEnvPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Controller runs commands under bash -c rooted at a directory under
// <cwd>/tmp/<name>-<pid>, and does file I/O directly against that
// directory.
type Controller struct {
	name string
	root string

	mu      sync.RWMutex
	started bool
}

// New creates a Controller for the given workspace name. The directory is
// not created until Init is called.
func New(name string) *Controller {
	return &Controller{name: name}
}

var _ controller.Controller = (*Controller)(nil)

// Init creates the workspace root directory. Calling it twice is a no-op.
func (c *Controller) Init(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return forgeerr.Wrap(forgeerr.Backend, err, "could not determine working directory")
	}
	root := filepath.Join(cwd, "tmp", fmt.Sprintf("%s-%d", c.name, os.Getpid()))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return forgeerr.Wrapf(forgeerr.Backend, err, "could not create local workspace directory %q", root)
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return forgeerr.Wrap(forgeerr.Backend, err, "could not resolve local workspace directory")
	}

	c.root = resolved
	c.started = true
	return nil
}

// Stop removes the workspace directory. Safe to call more than once.
func (c *Controller) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	if c.root == "" {
		return nil
	}
	if err := os.RemoveAll(c.root); err != nil {
		log.WithComponent("controller.localtemp").Warn().Err(err).Str("root", c.root).Msg("failed to remove local workspace directory")
	}
	return nil
}

func (c *Controller) resolvedPath(workingDir string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started {
		return "", forgeerr.New(forgeerr.Invariant, "controller is not initialised")
	}

	dir := strings.TrimPrefix(workingDir, "/")
	return filepath.Join(c.root, dir), nil
}

func (c *Controller) mergedEnv(extra map[string]string) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && isAllowedEnv(key) {
			merged[key] = value
		}
	}
	for k, v := range extra {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func (c *Controller) run(ctx context.Context, cmd string, opts controller.CmdOptions) (workspacecfg.CommandOutput, error) {
	dir, err := c.resolvedPath(opts.WorkingDir)
	if err != nil {
		return workspacecfg.CommandOutput{}, err
	}

	logger := log.WithComponent("controller.localtemp")
	logger.Debug().Str("cmd", log.Scrub(cmd)).Str("dir", dir).Msg("running command")

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(runCtx, "bash", "-c", cmd)
	execCmd.Dir = dir
	execCmd.Env = c.mergedEnv(opts.Env)
	execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var combined bytes.Buffer
	execCmd.Stdout = &combined
	execCmd.Stderr = &combined

	err = execCmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		if execCmd.Process != nil {
			_ = syscall.Kill(-execCmd.Process.Pid, syscall.SIGKILL)
		}
		return workspacecfg.CommandOutput{Output: combined.Bytes(), ExitCode: 124}, nil
	}

	if err == nil {
		return workspacecfg.CommandOutput{Output: combined.Bytes(), ExitCode: 0}, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return workspacecfg.CommandOutput{Output: combined.Bytes(), ExitCode: int32(exitErr.ExitCode())}, nil
	}

	return workspacecfg.CommandOutput{}, forgeerr.Wrapf(forgeerr.Backend, err, "could not run command %q", log.Scrub(cmd))
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
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

// WriteFile writes content to path under workingDir, creating parent
// directories as needed.
func (c *Controller) WriteFile(_ context.Context, path string, content []byte, workingDir string) error {
	dir, err := c.resolvedPath(workingDir)
	if err != nil {
		return err
	}
	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return forgeerr.Wrapf(forgeerr.Backend, err, "could not create parent directory for %q", path)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return forgeerr.Wrapf(forgeerr.Backend, err, "could not write file %q", path)
	}
	return nil
}

// ReadFile reads the bytes at path under workingDir.
func (c *Controller) ReadFile(_ context.Context, path string, workingDir string) ([]byte, error) {
	dir, err := c.resolvedPath(workingDir)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(dir, path)
	content, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, forgeerr.Wrapf(forgeerr.NotFound, err, "file %q does not exist", path)
		}
		return nil, forgeerr.Wrapf(forgeerr.Backend, err, "could not read file %q", path)
	}
	return content, nil
}

// ProvisionRepositories clones or refreshes each repository in order, then
// strips the origin remote so an embedded credential never persists on
// disk. See spec §4.1 for the exact algorithm.
func (c *Controller) ProvisionRepositories(ctx context.Context, repos []workspacecfg.Repository) error {
	logger := log.WithComponent("controller.localtemp")
	for _, repo := range repos {
		path := strings.TrimSuffix(repo.Path, "/")
		logger.Debug().Str("repository", log.Scrub(repo.URL)).Str("path", path).Msg("provisioning repository")

		exists := c.Cmd(ctx, fmt.Sprintf("test -f %s/.git/config", shellquote.Quote(path)), controller.CmdOptions{}) == nil

		if !exists {
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
