package workspacecfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/forgebox/internal/forgeerr"
	"gopkg.in/yaml.v3"
)

// WorkspaceContext is the immutable provisioning recipe for a workspace:
// which repositories to clone, in what order, and what setup script to run
// once they are present.
type WorkspaceContext struct {
	// Name is human-readable; used only in container names and logs.
	Name string `json:"name" yaml:"name"`
	// Repositories is ordered: later clones may depend on earlier ones
	// already being present (e.g. a monorepo checked out before a
	// submodule-like sibling that references it).
	Repositories []Repository `json:"repositories" yaml:"repositories"`
	// SetupScript is POSIX shell text executed once, root-equivalent,
	// after every repository has been cloned.
	SetupScript string `json:"setupScript" yaml:"setupScript"`
}

// ContextFromFile reads a WorkspaceContext from a JSON (default, per spec
// §6) or YAML file, selected by extension.
func ContextFromFile(path string) (WorkspaceContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkspaceContext{}, forgeerr.Wrapf(forgeerr.Validation, err, "could not read workspace config %q", path)
	}

	var ctx WorkspaceContext
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &ctx)
	default:
		err = json.Unmarshal(data, &ctx)
	}
	if err != nil {
		return WorkspaceContext{}, forgeerr.Wrapf(forgeerr.Validation, err, "could not parse workspace config %q", path)
	}

	if ctx.Name == "" {
		return WorkspaceContext{}, forgeerr.New(forgeerr.Validation, "workspace config must set a name")
	}

	return ctx, nil
}

// CommandOutput is the result of running one command: both stdout and
// stderr interleaved in Output, plus the process exit code. ExitCode == 0
// means success.
type CommandOutput struct {
	Output   []byte
	ExitCode int32
}

// Success reports whether the command exited zero.
func (c CommandOutput) Success() bool {
	return c.ExitCode == 0
}
