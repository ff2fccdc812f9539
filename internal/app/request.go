package app

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"fop-go/internal/fop"
)

// JobRequest is a job as typed on the command line: raw paths or URLs,
// relative paths resolved against the working directory.
type JobRequest struct {
	Type    fop.JobType
	Sources []string
	Target  string
	Flags   fop.Flags
	// Mode is an octal permission string, only read by chmod jobs.
	Mode string
}

// ResolveURL turns a command line argument into a URL. Anything without a
// scheme is a local path.
func ResolveURL(raw, cwd string) (fop.URL, error) {
	if strings.Contains(raw, "://") {
		return fop.ParseURL(raw)
	}
	if raw == "" {
		return fop.URL{}, fmt.Errorf("empty path")
	}
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	return fop.LocalURL(p), nil
}

// ParseMode reads an octal permission string such as "0755" or "640".
func ParseMode(s string) (fs.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	if v > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q: out of range", s)
	}
	mode := fs.FileMode(v & 0o777)
	if v&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if v&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if v&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode, nil
}

// resolve converts the request into job fields.
func (r JobRequest) resolve(cwd string) (sources []fop.URL, target fop.URL, mode fs.FileMode, err error) {
	for _, raw := range r.Sources {
		u, err := ResolveURL(raw, cwd)
		if err != nil {
			return nil, fop.URL{}, 0, fmt.Errorf("source %q: %w", raw, err)
		}
		sources = append(sources, u)
	}
	if r.Target != "" {
		target, err = ResolveURL(r.Target, cwd)
		if err != nil {
			return nil, fop.URL{}, 0, fmt.Errorf("target %q: %w", r.Target, err)
		}
	}
	if r.Type == fop.JobChmod {
		mode, err = ParseMode(r.Mode)
		if err != nil {
			return nil, fop.URL{}, 0, err
		}
	}
	return sources, target, mode, nil
}
