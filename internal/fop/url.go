package fop

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// SchemeFile is the scheme of the local filesystem backend.
const SchemeFile = "file"

// URL addresses one entry on one backend.
// Path is always absolute, slash separated and clean.
type URL struct {
	Scheme string
	Host   string
	Path   string
}

// ParseURL parses a scheme-qualified address. A bare absolute path is a
// file URL.
func ParseURL(raw string) (URL, error) {
	if raw == "" {
		return URL{}, fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		if !strings.HasPrefix(raw, "/") {
			return URL{}, fmt.Errorf("relative path not allowed: %s", raw)
		}
		return LocalURL(raw), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("parsing url %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return URL{}, fmt.Errorf("missing scheme: %s", raw)
	}
	return URL{Scheme: u.Scheme, Host: u.Host, Path: cleanPath(u.Path)}, nil
}

// LocalURL returns the file URL for a local path.
func LocalURL(p string) URL {
	return URL{Scheme: SchemeFile, Path: cleanPath(filepath.ToSlash(p))}
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

func (u URL) String() string {
	if u.IsZero() {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()
}

// IsZero reports whether u is the empty URL.
func (u URL) IsZero() bool { return u == URL{} }

// IsLocal reports whether u addresses the local filesystem.
func (u URL) IsLocal() bool { return u.Scheme == SchemeFile }

// Join returns the URL of the child named name.
func (u URL) Join(name string) URL {
	u.Path = path.Join(u.Path, name)
	return u
}

// Parent returns the URL of the containing directory. The parent of the
// root is the root.
func (u URL) Parent() URL {
	u.Path = path.Dir(u.Path)
	return u
}

// Base returns the last path element.
func (u URL) Base() string {
	return path.Base(u.Path)
}

// IsAncestorOf reports whether other lies strictly below u.
func (u URL) IsAncestorOf(other URL) bool {
	if u.Scheme != other.Scheme || u.Host != other.Host || u.Path == other.Path {
		return false
	}
	if u.Path == "/" {
		return true
	}
	return strings.HasPrefix(other.Path, u.Path+"/")
}

// Rel returns the slash path of other relative to u, or "" when other is
// not below u.
func (u URL) Rel(other URL) string {
	if !u.IsAncestorOf(other) {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(other.Path, u.Path), "/")
}
