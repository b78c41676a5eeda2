// Package config loads the immutable runtime configuration once at startup,
// layering cobra flags over viper-sourced environment variables.
package config

import (
	"strings"

	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/spf13/viper"
)

// Config is the fully-resolved set of knobs the gateway needs at startup.
// Built once in cmd/forgebox and threaded down; nothing in the rest of the
// module mutates it.
type Config struct {
	ProvisioningMode    string
	WorkspaceConfigPath string
	ServerMode          string

	GithubAppID                  int64
	GithubPrivateKeyB64          string
	GithubEndpoint               string
	DisableGitHostingIntegration bool

	DockerHost      string
	DockerBaseImage string
	ListenAddr      string
}

// Load reads environment variables (via viper, under their plain unprefixed
// names: GITHUB_APP_ID, GITHUB_PRIVATE_KEY, GITHUB_ENDPOINT,
// GITHUB_APP_DISABLED, DOCKER_HOST, DOCKER_BASE_IMAGE, LISTEN_ADDR) and
// overlays the three required CLI flags. provisioningMode, workspaceConfigPath
// and serverMode must already have been validated as non-empty by the caller;
// Load itself only validates provisioningMode and serverMode against their
// known sets, eagerly, before any provisioning work starts.
func Load(provisioningMode, workspaceConfigPath, serverMode string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetDefault("GITHUB_ENDPOINT", "https://api.github.com")
	v.SetDefault("GITHUB_APP_DISABLED", false)
	v.SetDefault("DOCKER_HOST", "")
	v.SetDefault("DOCKER_BASE_IMAGE", "ubuntu:22.04")
	v.SetDefault("LISTEN_ADDR", "127.0.0.1:8080")
	v.AllowEmptyEnv(true)

	switch provisioningMode {
	case "local", "docker":
	default:
		return Config{}, forgeerr.Newf(forgeerr.Validation, "unknown provisioning mode %q (must be \"local\" or \"docker\")", provisioningMode)
	}

	switch serverMode {
	case "http", "nats":
	default:
		return Config{}, forgeerr.Newf(forgeerr.Validation, "unknown server mode %q (must be \"http\" or \"nats\")", serverMode)
	}

	cfg := Config{
		ProvisioningMode:             provisioningMode,
		WorkspaceConfigPath:          workspaceConfigPath,
		ServerMode:                   serverMode,
		GithubAppID:                  v.GetInt64("GITHUB_APP_ID"),
		GithubPrivateKeyB64:          strings.TrimSpace(v.GetString("GITHUB_PRIVATE_KEY")),
		GithubEndpoint:               v.GetString("GITHUB_ENDPOINT"),
		DisableGitHostingIntegration: v.GetBool("GITHUB_APP_DISABLED"),
		DockerHost:                   v.GetString("DOCKER_HOST"),
		DockerBaseImage:              v.GetString("DOCKER_BASE_IMAGE"),
		ListenAddr:                   v.GetString("LISTEN_ADDR"),
	}

	return cfg, nil
}
