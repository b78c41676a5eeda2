// Package workspacecfg defines the provisioning recipe types shared by the
// provisioner, controllers, and the HTTP boundary: Repository,
// WorkspaceContext, and CommandOutput.
package workspacecfg

import (
	"net/url"
	"strings"

	"github.com/cuemby/forgebox/internal/forgeerr"
)

// Repository describes one Git checkout to materialize inside a workspace.
type Repository struct {
	// URL is the https fetch URL. A trailing ".git" is canonical and is
	// retained here for cloning; DisplayName strips it for presentation.
	URL string `json:"url" yaml:"url"`
	// Path is the absolute destination inside the workspace, or relative
	// to the workspace root.
	Path string `json:"path" yaml:"path"`
	// Reference is an optional branch, commit, or tag. Empty means the
	// default branch.
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`
}

// NewRepository validates url and path and returns a Repository. The URL
// must parse as https. An empty path is derived from the URL's last two
// path segments (owner/repo).
func NewRepository(rawURL, path, reference string) (Repository, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Repository{}, forgeerr.Wrapf(forgeerr.Validation, err, "invalid repository url %q", rawURL)
	}
	if parsed.Scheme != "https" {
		return Repository{}, forgeerr.Newf(forgeerr.Validation, "repository url %q must be https", rawURL)
	}

	if path == "" {
		path, err = defaultRepositoryPath(rawURL)
		if err != nil {
			return Repository{}, err
		}
	}

	return Repository{URL: rawURL, Path: path, Reference: reference}, nil
}

// RepositoryFromURL builds a Repository from a bare URL, deriving Path from
// the URL itself.
func RepositoryFromURL(rawURL string) (Repository, error) {
	return NewRepository(rawURL, "", "")
}

func defaultRepositoryPath(rawURL string) (string, error) {
	trimmed := strings.TrimRight(rawURL, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", forgeerr.Newf(forgeerr.Validation, "could not derive a path from repository url %q", rawURL)
	}
	repo := strings.TrimSuffix(parts[len(parts)-1], ".git")
	owner := parts[len(parts)-2]
	return owner + "/" + repo, nil
}

// DisplayName returns the repository URL with any trailing ".git" stripped.
func (r Repository) DisplayName() string {
	return strings.TrimSuffix(r.URL, ".git")
}
