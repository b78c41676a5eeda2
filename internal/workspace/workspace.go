// Package workspace wraps a single Backend Controller with the git-aware
// lifecycle and mutation operations a Workspace exposes: clone-or-refresh on
// init, a FIFO-serializing lock around every delegated operation, and the
// branch/commit/push/merge-request flow built on top.
package workspace

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cuemby/forgebox/internal/controller"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/internal/githubapp"
	"github.com/cuemby/forgebox/internal/shellquote"
	"github.com/cuemby/forgebox/pkg/log"
	"github.com/cuemby/forgebox/pkg/workspacecfg"
	"github.com/google/uuid"
)

// mainBranchCmd resolves the remote's default branch the same way for both
// the post-clone cleanup and create_merge_request's base branch, so the two
// never disagree about what "main" means for a given repository.
const mainBranchCmd = `git symbolic-ref refs/remotes/origin/HEAD | sed 's@^refs/remotes/origin/@@'`

// Workspace owns one Controller and the single Repository cloned into it.
// Every operation takes the same mutex for its full duration (including the
// underlying controller call) so concurrent callers against one workspace
// are strictly FIFO-ordered; spec §5.
type Workspace struct {
	id string

	mu         sync.Mutex
	controller controller.Controller
	repository workspacecfg.Repository

	integration        githubapp.HostingIntegration
	disableIntegration bool
}

// New creates a Workspace around an already-constructed Controller. The
// Controller is not started; call Init before anything else.
func New(id string, ctl controller.Controller, repo workspacecfg.Repository, integration githubapp.HostingIntegration, disableIntegration bool) *Workspace {
	return &Workspace{
		id:                 id,
		controller:         ctl,
		repository:         repo,
		integration:        integration,
		disableIntegration: disableIntegration,
	}
}

// ID returns the workspace's identifier, stable for its whole lifetime.
func (w *Workspace) ID() string {
	return w.id
}

// Repository returns a copy of the bound repository, including whatever
// credential Init may have embedded in its URL.
func (w *Workspace) Repository() workspacecfg.Repository {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.repository
}

// Init authenticates against the repository's host if an integration is
// configured, starts the controller, then either refreshes an
// already-cloned checkout or clones fresh.
func (w *Workspace) Init(ctx context.Context) error {
	logger := log.WithWorkspaceID(w.id)
	logger.Info().Msg("initializing workspace")

	if err := w.authenticateWithRepositoryIfPossible(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.controller.Init(ctx); err != nil {
		return err
	}

	if w.repositoryExistsLocked(ctx) {
		if err := w.configureGitLocked(ctx); err != nil {
			return err
		}
		if err := w.updateRemoteLocked(ctx); err != nil {
			return err
		}
		return w.cleanRepositoryLocked(ctx)
	}

	if err := w.cloneRepositoryLocked(ctx); err != nil {
		return err
	}
	return w.configureGitLocked(ctx)
}

// Cmd runs cmd, failing unless it exits zero.
func (w *Workspace) Cmd(ctx context.Context, cmd string, opts controller.CmdOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.controller.Cmd(ctx, cmd, opts)
}

// CmdWithOutput runs cmd and always returns its output.
func (w *Workspace) CmdWithOutput(ctx context.Context, cmd string, opts controller.CmdOptions) (workspacecfg.CommandOutput, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.controller.CmdWithOutput(ctx, cmd, opts)
}

// WriteFile writes content to path, rooted at workingDir relative to the
// workspace root.
func (w *Workspace) WriteFile(ctx context.Context, path string, content []byte, workingDir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.controller.WriteFile(ctx, path, content, workingDir)
}

// ReadFile reads the bytes at path, rooted at workingDir relative to the
// workspace root.
func (w *Workspace) ReadFile(ctx context.Context, path, workingDir string) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.controller.ReadFile(ctx, path, workingDir)
}

// Stop tears down the underlying controller. Called by the Registry on
// destroy_workspace.
func (w *Workspace) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.controller.Stop(ctx)
}

func (w *Workspace) repositoryExistsLocked(ctx context.Context) bool {
	return w.controller.Cmd(ctx, "ls -A .git", controller.CmdOptions{}) == nil
}

func (w *Workspace) cloneRepositoryLocked(ctx context.Context) error {
	cmd := fmt.Sprintf("git clone %s .", shellquote.Quote(w.repository.URL))
	return w.controller.Cmd(ctx, cmd, controller.CmdOptions{})
}

func (w *Workspace) updateRemoteLocked(ctx context.Context) error {
	cmd := fmt.Sprintf("git remote set-url origin %s", shellquote.Quote(w.repository.URL))
	return w.controller.Cmd(ctx, cmd, controller.CmdOptions{})
}

func (w *Workspace) cleanRepositoryLocked(ctx context.Context) error {
	checkoutCmd := fmt.Sprintf("git checkout $(%s)", mainBranchCmd)
	cmds := []string{
		"git reset --hard",
		"git clean -fd",
		"git fetch origin",
		checkoutCmd,
	}
	for _, cmd := range cmds {
		if err := w.controller.Cmd(ctx, cmd, controller.CmdOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workspace) configureGitLocked(ctx context.Context) error {
	if w.disableIntegration || w.integration == nil {
		return w.setGitIdentityLocked(ctx, "swabbie@forgebox.dev", "forgebox-bot")
	}

	user, err := w.integration.User(ctx)
	if err != nil {
		log.WithComponent("workspace").Warn().Err(err).Msg("could not resolve bot identity, using neutral identity")
		return w.setGitIdentityLocked(ctx, "swabbie@forgebox.dev", "forgebox-bot")
	}

	// https://github.com/orgs/community/discussions/24664
	botEmail := fmt.Sprintf("%d+%s@users.noreply.github.com", user.ID, user.Login)
	return w.setGitIdentityLocked(ctx, botEmail, user.Login)
}

func (w *Workspace) setGitIdentityLocked(ctx context.Context, email, name string) error {
	if err := w.controller.Cmd(ctx, fmt.Sprintf("git config user.email %s", shellquote.Quote(email)), controller.CmdOptions{}); err != nil {
		return err
	}
	return w.controller.Cmd(ctx, fmt.Sprintf("git config user.name %s", shellquote.Quote(name)), controller.CmdOptions{})
}

func (w *Workspace) authenticateWithRepositoryIfPossible(ctx context.Context) error {
	if w.disableIntegration || w.integration == nil {
		return nil
	}

	w.mu.Lock()
	url := w.repository.URL
	w.mu.Unlock()

	authedURL, err := w.integration.AddTokenToURL(ctx, url)
	if err != nil {
		log.WithComponent("workspace").Warn().Err(err).Msg("could not authenticate with git host, continuing anyway")
		return nil
	}

	log.WithComponent("workspace").Warn().Msg("token added to repository url")

	w.mu.Lock()
	w.repository.URL = authedURL
	w.mu.Unlock()
	return nil
}

// CreateBranch switches to a new branch. An empty name generates
// "generated/<uuid>".
func (w *Workspace) CreateBranch(ctx context.Context, name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	branch := name
	if branch == "" {
		branch = "generated/" + uuid.NewString()
	}

	cmd := fmt.Sprintf("git switch -c %s", shellquote.Quote(branch))
	if err := w.controller.Cmd(ctx, cmd, controller.CmdOptions{}); err != nil {
		return "", err
	}
	return branch, nil
}

// Commit stages files (or everything, if files is empty) and commits with
// message.
func (w *Workspace) Commit(ctx context.Context, message string, files []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(files) > 0 {
		quoted := make([]string, len(files))
		for i, f := range files {
			quoted[i] = shellquote.Quote(f)
		}
		addCmd := "git add " + strings.Join(quoted, " ")
		if err := w.controller.Cmd(ctx, addCmd, controller.CmdOptions{}); err != nil {
			return err
		}
	} else {
		if err := w.controller.Cmd(ctx, "git add .", controller.CmdOptions{}); err != nil {
			return err
		}
	}

	commitCmd := fmt.Sprintf("git commit -m %s", shellquote.Quote(message))
	return w.controller.Cmd(ctx, commitCmd, controller.CmdOptions{})
}

// Push pushes HEAD to targetBranch on origin.
func (w *Workspace) Push(ctx context.Context, targetBranch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cmd := fmt.Sprintf("git push origin HEAD:%s", shellquote.Quote(targetBranch))
	return w.controller.Cmd(ctx, cmd, controller.CmdOptions{})
}

// CreateMergeRequest opens a pull request from branchName onto the
// repository's default branch, resolved the same way cleanRepository does.
func (w *Workspace) CreateMergeRequest(ctx context.Context, title, description, branchName string) (githubapp.PullRequestMetadata, error) {
	if w.disableIntegration || w.integration == nil {
		return githubapp.PullRequestMetadata{}, forgeerr.New(forgeerr.Integration, "git-hosting integration is disabled")
	}

	out, err := w.CmdWithOutput(ctx, mainBranchCmd, controller.CmdOptions{})
	if err != nil {
		return githubapp.PullRequestMetadata{}, err
	}
	mainBranch := strings.TrimSpace(string(out.Output))

	w.mu.Lock()
	repoURL := w.repository.URL
	w.mu.Unlock()

	mr, err := w.integration.CreateMergeRequest(ctx, repoURL, branchName, mainBranch, title, description)
	if err != nil {
		return githubapp.PullRequestMetadata{}, err
	}

	log.WithComponent("workspace").Info().Str("url", mr.URL).Msg("created merge request")
	return mr, nil
}
