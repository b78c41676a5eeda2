// Package imagecache implements the two-level content-addressed image cache
// described in spec §4.2: a repositories-layer image (keyed by the
// repository set alone) beneath a full-context image (keyed by name,
// repositories, setup script, and env), both built by committing a
// container that has already done the slow work once.
package imagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/cuemby/forgebox/pkg/workspacecfg"
)

// keyLength is the number of hex characters kept from the SHA-256 digest.
const keyLength = 16

// RepositoriesKey is the derivation key for the repositories-only layer:
// a SHA-256 over each (url, path, reference) tuple in order.
func RepositoriesKey(repos []workspacecfg.Repository) string {
	h := sha256.New()
	for _, repo := range repos {
		h.Write([]byte(repo.URL))
		h.Write([]byte(repo.Path))
		h.Write([]byte(repo.Reference))
	}
	return truncate(h.Sum(nil))
}

// ContextKey is the derivation key for the full-context layer: a SHA-256
// over (name, repositories-as-above, setup script, env entries in a stable
// order).
func ContextKey(ctx workspacecfg.WorkspaceContext, env map[string]string) string {
	h := sha256.New()
	h.Write([]byte(ctx.Name))
	for _, repo := range ctx.Repositories {
		h.Write([]byte(repo.URL))
		h.Write([]byte(repo.Path))
		h.Write([]byte(repo.Reference))
	}
	h.Write([]byte(ctx.SetupScript))

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(env[k]))
	}

	return truncate(h.Sum(nil))
}

func truncate(digest []byte) string {
	return hex.EncodeToString(digest)[:keyLength]
}
