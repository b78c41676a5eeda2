// Package shellquote escapes strings for safe interpolation into a POSIX
// shell command line. Every user-supplied string that ends up inside a
// `bash -c "..."` invocation (branch names, commit messages, file paths,
// repository URLs) must be passed through Quote first.
package shellquote

import "strings"

// Quote wraps s in single quotes, escaping any embedded single quote with
// the standard '\'' trick. The result is safe to paste directly into a
// POSIX shell command.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteAll quotes every element of ss.
func QuoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = Quote(s)
	}
	return out
}
