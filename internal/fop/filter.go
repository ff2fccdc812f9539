package fop

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DirFilter selects which entry types an enumerator yields. The zero value
// yields everything.
type DirFilter uint

const (
	FilterFiles DirFilter = 1 << iota
	FilterDirs
	FilterNoSymlinks
	FilterHidden
	FilterSystem

	FilterAll = FilterFiles | FilterDirs | FilterHidden | FilterSystem
)

func (f DirFilter) accepts(t FileType, name string) bool {
	if f == 0 {
		f = FilterAll
	}
	if strings.HasPrefix(name, ".") && f&FilterHidden == 0 {
		return false
	}
	switch t {
	case TypeDir:
		return f&FilterDirs != 0
	case TypeSymlink:
		return f&FilterNoSymlinks == 0 && f&FilterFiles != 0
	case TypeSpecial:
		return f&FilterSystem != 0
	default:
		return f&FilterFiles != 0
	}
}

// namePattern is a parsed name filter with its matching strategy.
type namePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// nameFilter keeps entries whose name matches one of its glob patterns.
// Patterns without '/' match the base name. Patterns with '/' match the
// path relative to the enumeration root. An empty filter keeps everything.
type nameFilter struct {
	patterns []namePattern
}

func newNameFilter(raw []string) (*nameFilter, error) {
	var patterns []namePattern
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid name filter %q", p)
		}
		patterns = append(patterns, namePattern{pattern: p, matchPath: strings.Contains(p, "/")})
	}
	return &nameFilter{patterns: patterns}, nil
}

// Match reports whether the slash separated relative path passes.
func (f *nameFilter) Match(rel string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	base := path.Base(rel)
	for _, p := range f.patterns {
		target := base
		if p.matchPath {
			target = rel
		}
		if ok, err := doublestar.Match(p.pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}

// NetworkPolicy bounds enumeration calls on paths that belong to network
// mounts.
type NetworkPolicy struct {
	Pattern *regexp.Regexp
	Timeout time.Duration
}

// DefaultNetworkPolicy matches gvfs mounts of remote shares.
var DefaultNetworkPolicy = NetworkPolicy{
	Pattern: regexp.MustCompile(`(^/run/user/.*/gvfs/|^/root/.gvfs/)(sftp|ftp|smb|dav)`),
	Timeout: 2 * time.Second,
}

// NewNetworkPolicy compiles patterns into one alternation.
func NewNetworkPolicy(patterns []string, timeout time.Duration) (NetworkPolicy, error) {
	if len(patterns) == 0 {
		p := DefaultNetworkPolicy
		if timeout > 0 {
			p.Timeout = timeout
		}
		return p, nil
	}
	re, err := regexp.Compile("(" + strings.Join(patterns, ")|(") + ")")
	if err != nil {
		return NetworkPolicy{}, fmt.Errorf("compiling network patterns: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultNetworkPolicy.Timeout
	}
	return NetworkPolicy{Pattern: re, Timeout: timeout}, nil
}

// TimeoutFor returns the per-call bound for u, zero when u is not on a
// network mount.
func (p NetworkPolicy) TimeoutFor(u URL) time.Duration {
	if p.Pattern == nil || !u.IsLocal() {
		return 0
	}
	if p.Pattern.MatchString(u.Path) {
		return p.Timeout
	}
	return 0
}
