// Package controller defines the polymorphic Backend Controller abstraction:
// one execution engine per Workspace, exposing the same capability set
// whether the workspace lives in a container or a local temp directory.
package controller

import (
	"context"
	"time"

	"github.com/cuemby/forgebox/pkg/workspacecfg"
)

// CmdOptions carries the per-call overlay for Cmd and CmdWithOutput.
// WorkingDir is always interpreted relative to the workspace root: a
// leading "/" is stripped rather than treated as an escape from the
// sandbox. Env is merged on top of whatever environment the controller
// otherwise provides, caller keys winning. A zero Timeout means no limit.
type CmdOptions struct {
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// Controller is the capability set every backend variant implements.
// CmdWithOutput never returns an error for a non-zero exit code; that is
// reserved for execution failures (could not spawn, could not reach the
// container, I/O error reading output). Cmd is the opposite: any non-zero
// exit is surfaced as a *forgeerr.Error of kind CommandFailure.
type Controller interface {
	// Init performs one-time setup (create temp directory, start
	// container). Idempotent: a second call is a no-op.
	Init(ctx context.Context) error
	// Stop idempotently tears the controller down, releasing all
	// resources. Safe to call more than once.
	Stop(ctx context.Context) error
	// Cmd runs cmd via bash -c and fails unless it exits zero.
	Cmd(ctx context.Context, cmd string, opts CmdOptions) error
	// CmdWithOutput runs cmd via bash -c and always returns its output
	// and exit code, even on non-zero exit.
	CmdWithOutput(ctx context.Context, cmd string, opts CmdOptions) (workspacecfg.CommandOutput, error)
	// WriteFile creates path (and any missing parent directories) with
	// content, overwriting anything already there.
	WriteFile(ctx context.Context, path string, content []byte, workingDir string) error
	// ReadFile returns the bytes at path, erroring if it is absent or
	// unreadable.
	ReadFile(ctx context.Context, path string, workingDir string) ([]byte, error)
	// ProvisionRepositories ensures every listed repository is cloned (or
	// refreshed, if already present) at its Path, then strips the origin
	// remote so no embedded credential persists on disk.
	ProvisionRepositories(ctx context.Context, repos []workspacecfg.Repository) error
}
