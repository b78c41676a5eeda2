package localtemp

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/forgebox/internal/controller"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/pkg/workspacecfg"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		t.Fatalf("git %v in %s failed: %v\n%s", args, dir, err, out.String())
	}
}

// newSourceRepo creates a throwaway git repository under t.TempDir() with a
// single commit, suitable as a clone source for ProvisionRepositories.
func newSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q", "-b", "main")
	runGit(t, dir, "config", "user.email", "fixture@example.com")
	runGit(t, dir, "config", "user.name", "fixture")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-q", "-m", "initial commit")
	return dir
}

func newStartedController(t *testing.T) *Controller {
	t.Helper()
	ctl := New("test-" + t.Name())
	if err := ctl.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = ctl.Stop(context.Background()) })
	return ctl
}

func TestController_InitIsIdempotent(t *testing.T) {
	ctl := newStartedController(t)
	root := ctl.root

	if err := ctl.Init(context.Background()); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	if ctl.root != root {
		t.Errorf("second Init() changed root: %q != %q", ctl.root, root)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory missing after Init(): %v", err)
	}
}

func TestController_StopRemovesRootAndIsIdempotent(t *testing.T) {
	ctl := New("test-stop")
	if err := ctl.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	root := ctl.root

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("root directory still exists after Stop()")
	}

	if err := ctl.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestController_CmdSucceedsAndFails(t *testing.T) {
	ctl := newStartedController(t)
	ctx := context.Background()

	if err := ctl.Cmd(ctx, "exit 0", controller.CmdOptions{}); err != nil {
		t.Errorf("Cmd() with exit 0 error = %v", err)
	}

	if err := ctl.Cmd(ctx, "exit 7", controller.CmdOptions{}); err == nil {
		t.Error("Cmd() with a non-zero exit should return an error")
	}
}

func TestController_CmdWithOutput_NeverErrorsOnNonZeroExit(t *testing.T) {
	ctl := newStartedController(t)
	ctx := context.Background()

	out, err := ctl.CmdWithOutput(ctx, "echo failing >&2; exit 3", controller.CmdOptions{})
	if err != nil {
		t.Fatalf("CmdWithOutput() unexpectedly errored: %v", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", out.ExitCode)
	}
	if !bytes.Contains(out.Output, []byte("failing")) {
		t.Errorf("Output = %q, want it to contain %q", out.Output, "failing")
	}
}

func TestController_CmdTimeout(t *testing.T) {
	ctl := newStartedController(t)
	ctx := context.Background()

	out, err := ctl.CmdWithOutput(ctx, "sleep 5", controller.CmdOptions{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("CmdWithOutput() error = %v", err)
	}
	if out.ExitCode != 124 {
		t.Errorf("ExitCode = %d, want 124 (timeout)", out.ExitCode)
	}
}

func TestController_WriteFileReadFileRoundTrip(t *testing.T) {
	ctl := newStartedController(t)
	ctx := context.Background()

	content := []byte("héllo wörld — 日本語\n")
	if err := ctl.WriteFile(ctx, "nested/dir/greeting.txt", content, ""); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := ctl.ReadFile(ctx, "nested/dir/greeting.txt", "")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("ReadFile() = %q, want %q", got, content)
	}
}

func TestController_ReadFile_MissingIsNotFound(t *testing.T) {
	ctl := newStartedController(t)
	if _, err := ctl.ReadFile(context.Background(), "does/not/exist.txt", ""); !forgeerr.Is(err, forgeerr.NotFound) {
		t.Errorf("ReadFile() on a missing file error = %v, want NotFound", err)
	}
}

func TestController_WorkingDirLeadingSlashEquivalence(t *testing.T) {
	ctl := newStartedController(t)
	ctx := context.Background()

	if err := ctl.WriteFile(ctx, "marker.txt", []byte("x"), "sub/dir"); err != nil {
		t.Fatalf("WriteFile() with relative workingDir error = %v", err)
	}

	got, err := ctl.ReadFile(ctx, "marker.txt", "/sub/dir")
	if err != nil {
		t.Fatalf("ReadFile() with leading-slash workingDir error = %v", err)
	}
	if string(got) != "x" {
		t.Errorf("ReadFile() = %q, want %q", got, "x")
	}
}

func TestController_ProvisionRepositories_ClonesAndStripsOrigin(t *testing.T) {
	source := newSourceRepo(t)
	ctl := newStartedController(t)
	ctx := context.Background()

	repos := []workspacecfg.Repository{
		{URL: source, Path: "widgets"},
	}
	if err := ctl.ProvisionRepositories(ctx, repos); err != nil {
		t.Fatalf("ProvisionRepositories() error = %v", err)
	}

	got, err := ctl.ReadFile(ctx, "README.md", "widgets")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("README.md content = %q, want %q", got, "hello")
	}

	out, err := ctl.CmdWithOutput(ctx, "git remote", controller.CmdOptions{WorkingDir: "widgets"})
	if err != nil {
		t.Fatalf("CmdWithOutput() error = %v", err)
	}
	if len(bytes.TrimSpace(out.Output)) != 0 {
		t.Errorf("origin remote should have been removed, git remote printed %q", out.Output)
	}
}

func TestController_ProvisionRepositories_RefreshesExistingCheckout(t *testing.T) {
	source := newSourceRepo(t)
	ctl := newStartedController(t)
	ctx := context.Background()

	repos := []workspacecfg.Repository{{URL: source, Path: "widgets"}}
	if err := ctl.ProvisionRepositories(ctx, repos); err != nil {
		t.Fatalf("first ProvisionRepositories() error = %v", err)
	}

	runGit(t, source, "commit", "--allow-empty", "-q", "-m", "second commit")

	if err := ctl.ProvisionRepositories(ctx, repos); err != nil {
		t.Fatalf("second ProvisionRepositories() error = %v", err)
	}

	out, err := ctl.CmdWithOutput(ctx, "git log --oneline", controller.CmdOptions{WorkingDir: "widgets"})
	if err != nil {
		t.Fatalf("CmdWithOutput() error = %v", err)
	}
	if bytes.Count(out.Output, []byte("\n")) < 2 {
		t.Errorf("expected the refreshed checkout to have both commits, got log:\n%s", out.Output)
	}
}
