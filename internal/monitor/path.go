package monitor

import (
	"fmt"
	"net/url"
	"strings"
)

// RepoPath extracts the owner/repo identity from a repository URL.
//
// Accepted forms:
//   - "https://gitea.example.com/alice/app"
//   - "http://internal:3000/alice/app.git"
//   - "https://example.com/gitea/alice/app/" (sub-path install)
//   - "git@gitea.example.com:alice/app.git"
//   - "alice/app"
//
// Scheme, credentials, host and port are discarded, as are a trailing ".git"
// and trailing slashes. The identity is the last two path segments and is
// case-sensitive.
func RepoPath(rawURL string) (string, error) {
	segments, err := pathSegments(rawURL)
	if err != nil {
		return "", err
	}
	if len(segments) < 2 {
		return "", fmt.Errorf("%w: %q has no owner/repo path", ErrInvalid, rawURL)
	}
	return segments[len(segments)-2] + "/" + segments[len(segments)-1], nil
}

// giteaRoutes are path segments Gitea appends after owner/repo in browser
// URLs, e.g. /alice/app/src/branch/main.
var giteaRoutes = map[string]bool{
	"-": true, "src": true, "raw": true, "media": true, "blob": true, "tree": true,
	"commit": true, "commits": true, "branches": true, "tags": true,
	"issues": true, "pulls": true, "compare": true, "releases": true,
	"wiki": true, "actions": true, "settings": true, "activity": true,
}

// checkRepoURL rejects browser URLs that point inside a repository. The
// last-two-segments rule would otherwise register them under a path no
// webhook ever reports.
func checkRepoURL(rawURL string) error {
	segments, err := pathSegments(rawURL)
	if err != nil {
		return err
	}
	for i, seg := range segments {
		if giteaRoutes[seg] && (i >= 2 || seg == "-") {
			return fmt.Errorf("%w: %q points inside a repository (%q); use the repository root URL", ErrInvalid, rawURL, seg)
		}
	}
	return nil
}

func pathSegments(rawURL string) ([]string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return nil, fmt.Errorf("%w: repository url is empty", ErrInvalid)
	}

	var p string
	switch {
	case strings.Contains(s, "://"):
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: parse repository url: %v", ErrInvalid, err)
		}
		p = u.Path
	case isSCPLike(s):
		p = s[strings.Index(s, ":")+1:]
	default:
		p = s
	}

	p = strings.Trim(p, "/")
	p = strings.TrimSuffix(p, ".git")
	p = strings.TrimRight(p, "/")

	segments := make([]string, 0, 4)
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments, nil
}

// isSCPLike reports whether s looks like "user@host:owner/repo".
func isSCPLike(s string) bool {
	colon := strings.Index(s, ":")
	if colon <= 0 {
		return false
	}
	slash := strings.Index(s, "/")
	return slash == -1 || colon < slash
}
