// Package githubapp implements the narrow Git-hosting integration surface a
// Workspace needs: turning a clone URL into one carrying a short-lived
// credential, resolving the bot's own identity, and opening a pull request.
// The JWT-signed, per-installation token dance is handled by ghinstallation
// and the REST calls by go-github.
package githubapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/pkg/log"
	"github.com/google/go-github/v66/github"
)

// PullRequestMetadata is the subset of a created pull request a caller needs.
type PullRequestMetadata struct {
	Number int
	URL    string
}

// BotUser identifies the GitHub App's own bot account, used to build a
// no-reply commit identity (see internal/workspace's configure_git).
type BotUser struct {
	ID    int64
	Login string
}

// HostingIntegration is the interface internal/workspace depends on. Keeping
// it this narrow is what lets a fake stand in for tests without pulling in
// any of the GitHub transport machinery.
type HostingIntegration interface {
	AddTokenToURL(ctx context.Context, httpsURL string) (string, error)
	CreateMergeRequest(ctx context.Context, repoURL, head, base, title, body string) (PullRequestMetadata, error)
	User(ctx context.Context) (BotUser, error)
}

// Client is the ghinstallation/go-github-backed HostingIntegration.
type Client struct {
	appsTransport *ghinstallation.AppsTransport
	appClient     *github.Client

	mu                 sync.RWMutex
	installationByRepo map[string]int64
}

var _ HostingIntegration = (*Client)(nil)

// New builds a Client from a numeric app id and a base64-encoded PEM private
// key (base64 decode, then parse as an RSA PEM). endpoint is the GitHub API
// base URL; pass "" for github.com.
func New(appID int64, privateKeyB64, endpoint string) (*Client, error) {
	pemBytes, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.Validation, err, "GITHUB_PRIVATE_KEY is not valid base64")
	}

	appsTransport, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, pemBytes)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.Validation, err, "could not build GitHub App transport from private key")
	}

	httpClient := &http.Client{Transport: appsTransport}
	var appClient *github.Client
	if endpoint != "" && endpoint != "https://api.github.com" {
		appsTransport.BaseURL = strings.TrimSuffix(endpoint, "/")
		appClient, err = github.NewClient(httpClient).WithEnterpriseURLs(endpoint, endpoint)
		if err != nil {
			return nil, forgeerr.Wrap(forgeerr.Integration, err, "could not build enterprise GitHub client")
		}
	} else {
		appClient = github.NewClient(httpClient)
	}

	return &Client{
		appsTransport:      appsTransport,
		appClient:          appClient,
		installationByRepo: make(map[string]int64),
	}, nil
}

func extractOwnerAndRepo(repoURL string) (string, string, error) {
	parsed, err := url.Parse(repoURL)
	if err != nil {
		return "", "", forgeerr.Wrapf(forgeerr.Validation, err, "could not parse repository url %q", repoURL)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", forgeerr.Newf(forgeerr.Validation, "could not extract owner and repo from url %q", repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

func (c *Client) installationClient(ctx context.Context, repoURL string) (*github.Client, error) {
	owner, repo, err := extractOwnerAndRepo(repoURL)
	if err != nil {
		return nil, err
	}

	key := owner + "/" + repo

	c.mu.RLock()
	id, ok := c.installationByRepo[key]
	c.mu.RUnlock()

	if !ok {
		installation, _, err := c.appClient.Apps.FindRepositoryInstallation(ctx, owner, repo)
		if err != nil {
			return nil, forgeerr.Wrapf(forgeerr.Integration, err, "could not find installation for %s/%s", owner, repo)
		}
		id = installation.GetID()

		c.mu.Lock()
		c.installationByRepo[key] = id
		c.mu.Unlock()
	}

	transport := ghinstallation.NewFromAppsTransport(c.appsTransport, id)
	return github.NewClient(&http.Client{Transport: transport}), nil
}

// AddTokenToURL resolves the installation for the repository at httpsURL,
// mints a short-lived installation token, and returns the URL with
// "x-access-token:<token>@" embedded ahead of the host.
func (c *Client) AddTokenToURL(ctx context.Context, httpsURL string) (string, error) {
	if !strings.HasPrefix(httpsURL, "https://") {
		return "", forgeerr.Newf(forgeerr.Validation, "only https urls are supported, got %q", httpsURL)
	}

	owner, repo, err := extractOwnerAndRepo(httpsURL)
	if err != nil {
		return "", err
	}

	installation, _, err := c.appClient.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		return "", forgeerr.Wrapf(forgeerr.Integration, err, "could not find installation for %s/%s", owner, repo)
	}

	token, _, err := c.appClient.Apps.CreateInstallationToken(ctx, installation.GetID(), nil)
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.Integration, err, "could not create installation token")
	}

	parsed, err := url.Parse(httpsURL)
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.Validation, err, "could not parse repository url")
	}
	parsed.User = url.UserPassword("x-access-token", token.GetToken())

	log.WithComponent("githubapp").Info().Int64("installation_id", installation.GetID()).Msg("token added to url")
	return parsed.String(), nil
}

// User returns the GitHub App's own bot account, used to build the
// no-reply commit identity (<id>+<login>@users.noreply.github.com).
func (c *Client) User(ctx context.Context) (BotUser, error) {
	app, _, err := c.appClient.Apps.Get(ctx, "")
	if err != nil {
		return BotUser{}, forgeerr.Wrap(forgeerr.Integration, err, "could not fetch app identity")
	}

	botLogin := fmt.Sprintf("%s[bot]", app.GetSlug())
	user, _, err := c.appClient.Users.Get(ctx, botLogin)
	if err != nil {
		return BotUser{}, forgeerr.Wrapf(forgeerr.Integration, err, "could not fetch bot user %q", botLogin)
	}

	return BotUser{ID: user.GetID(), Login: user.GetLogin()}, nil
}

// CreateMergeRequest opens a pull request from head into base.
func (c *Client) CreateMergeRequest(ctx context.Context, repoURL, head, base, title, body string) (PullRequestMetadata, error) {
	owner, repo, err := extractOwnerAndRepo(repoURL)
	if err != nil {
		return PullRequestMetadata{}, err
	}

	client, err := c.installationClient(ctx, repoURL)
	if err != nil {
		return PullRequestMetadata{}, err
	}

	pr, _, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return PullRequestMetadata{}, forgeerr.Wrap(forgeerr.Integration, err, "could not create merge request")
	}

	log.WithComponent("githubapp").Info().Str("url", pr.GetHTMLURL()).Msg("created merge request")
	return PullRequestMetadata{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}
