package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"fop-go/internal/fop"
)

// memNode is one entry of a MemBackend. Hard links share a node.
type memNode struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
	atime   time.Time
	target  string
	ino     uint64
}

// Fault makes one backend operation fail.
type Fault struct {
	Op   string
	Path string
	Err  error
	// Times is the number of calls that fail. Negative fails forever.
	Times int
	hits  int
}

// MemBackend is an in-memory fop.Backend for tests. It also implements
// Renamer, AttrSetter, Linker and SpaceReporter. Directories without the
// owner write bit refuse changes to their entries.
type MemBackend struct {
	scheme string

	mu     sync.Mutex
	nodes  map[string]*memNode
	free   int64
	faults []*Fault
	nextIn uint64
	calls  map[string]int
}

// NewMemBackend creates a backend with an empty root directory.
func NewMemBackend(scheme string) *MemBackend {
	m := &MemBackend{
		scheme: scheme,
		nodes:  make(map[string]*memNode),
		free:   -1,
		calls:  make(map[string]int),
	}
	m.nodes["/"] = m.newNode(fs.ModeDir | 0o755)
	return m
}

func (m *MemBackend) newNode(mode fs.FileMode) *memNode {
	m.nextIn++
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return &memNode{mode: mode, modTime: now, atime: now, ino: m.nextIn}
}

// URL returns the URL of p on this backend.
func (m *MemBackend) URL(p string) fop.URL {
	return fop.URL{Scheme: m.scheme, Path: path.Clean("/" + p)}
}

// AddDir creates p and its missing parents.
func (m *MemBackend) AddDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(path.Clean("/" + p))
}

// AddFile creates a file with content, creating parents as needed.
func (m *MemBackend) AddFile(p, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean("/" + p)
	m.mkdirAll(path.Dir(p))
	n := m.newNode(0o644)
	n.data = []byte(content)
	m.nodes[p] = n
}

// AddSymlink creates a symbolic link at p pointing at target.
func (m *MemBackend) AddSymlink(p, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean("/" + p)
	m.mkdirAll(path.Dir(p))
	n := m.newNode(fs.ModeSymlink | 0o777)
	n.target = target
	m.nodes[p] = n
}

func (m *MemBackend) mkdirAll(p string) {
	if p == "/" {
		return
	}
	if _, ok := m.nodes[p]; ok {
		return
	}
	m.mkdirAll(path.Dir(p))
	m.nodes[p] = m.newNode(fs.ModeDir | 0o755)
}

// SetMode replaces the permission bits of p.
func (m *MemBackend) SetMode(p string, perm fs.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[path.Clean("/"+p)]; ok {
		n.mode = n.mode.Type() | perm
	}
}

// Mode returns the mode of p, zero when it does not exist.
func (m *MemBackend) Mode(p string) fs.FileMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[path.Clean("/"+p)]; ok {
		return n.mode
	}
	return 0
}

// ReadFile returns the content of p.
func (m *MemBackend) ReadFile(p string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[path.Clean("/"+p)]
	if !ok || !n.mode.IsRegular() {
		return "", false
	}
	return string(n.data), true
}

// Exists reports whether p exists.
func (m *MemBackend) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nodes[path.Clean("/"+p)]
	return ok
}

// Paths lists every entry except the root, sorted.
func (m *MemBackend) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.nodes {
		if p != "/" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// SetFree sets the space reported by FreeBytes. Negative makes the backend
// report that it cannot tell.
func (m *MemBackend) SetFree(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free = n
}

// Fail registers a fault for op on paths matching the path.Match pattern
// p. Ops are stat, opendir, open, read, create, write, mkdir, remove,
// rename, chmod, symlink and link.
func (m *MemBackend) Fail(op, p string, err error, times int) *Fault {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &Fault{Op: op, Path: path.Clean("/" + p), Err: err, Times: times}
	m.faults = append(m.faults, f)
	return f
}

// Calls returns how many times op was invoked.
func (m *MemBackend) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// fault must be called with m.mu held.
func (m *MemBackend) fault(op, p string) error {
	m.calls[op]++
	for _, f := range m.faults {
		if f.Op != op {
			continue
		}
		if ok, _ := path.Match(f.Path, p); !ok && f.Path != p {
			continue
		}
		if f.Times >= 0 && f.hits >= f.Times {
			continue
		}
		f.hits++
		return &fs.PathError{Op: op, Path: p, Err: f.Err}
	}
	return nil
}

func (m *MemBackend) path(u fop.URL) (string, error) {
	if u.Scheme != m.scheme {
		return "", fmt.Errorf("not a %s URL: %s", m.scheme, u)
	}
	return path.Clean("/" + u.Path), nil
}

func notExist(op, p string) error { return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist} }

// writableParent checks that p can be added to or removed from its parent.
func (m *MemBackend) writableParent(op, p string) error {
	parent, ok := m.nodes[path.Dir(p)]
	if !ok {
		return notExist(op, path.Dir(p))
	}
	if !parent.mode.IsDir() {
		return &fs.PathError{Op: op, Path: path.Dir(p), Err: syscall.ENOTDIR}
	}
	if parent.mode.Perm()&0o200 == 0 {
		return &fs.PathError{Op: op, Path: p, Err: fs.ErrPermission}
	}
	return nil
}

func (m *MemBackend) children(dir string) []string {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var names []string
	for p := range m.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		if rest := p[len(prefix):]; !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	slices.Sort(names)
	return names
}

func (m *MemBackend) stat(p string, n *memNode) *fop.Stat {
	links := uint64(0)
	for _, other := range m.nodes {
		if other == n {
			links++
		}
	}
	return &fop.Stat{
		Name:       path.Base(p),
		Size:       int64(len(n.data)),
		Mode:       n.mode,
		ModTime:    n.modTime,
		AccessTime: n.atime,
		Ino:        n.ino,
		Nlink:      links,
	}
}

func (m *MemBackend) Scheme() string { return m.scheme }

func (m *MemBackend) Stat(ctx context.Context, u fop.URL) (*fop.Stat, error) {
	p, err := m.path(u)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("stat", p); err != nil {
		return nil, err
	}
	n, ok := m.nodes[p]
	if !ok {
		return nil, notExist("stat", p)
	}
	return m.stat(p, n), nil
}

func (m *MemBackend) OpenDir(ctx context.Context, u fop.URL) (fop.DirReader, error) {
	p, err := m.path(u)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("opendir", p); err != nil {
		return nil, err
	}
	n, ok := m.nodes[p]
	if !ok {
		return nil, notExist("opendir", p)
	}
	if !n.mode.IsDir() {
		return nil, &fs.PathError{Op: "opendir", Path: p, Err: syscall.ENOTDIR}
	}
	var entries []fop.DirEntry
	for _, name := range m.children(p) {
		child := path.Join(p, name)
		entries = append(entries, fop.DirEntry{Name: name, Stat: m.stat(child, m.nodes[child])})
	}
	return &memDirReader{entries: entries}, nil
}

type memDirReader struct {
	entries []fop.DirEntry
}

func (r *memDirReader) ReadEntries(ctx context.Context, n int) ([]fop.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(r.entries) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(r.entries))
	out := r.entries[:n]
	r.entries = r.entries[n:]
	return out, nil
}

func (r *memDirReader) Close() error { return nil }

func (m *MemBackend) Open(ctx context.Context, u fop.URL) (io.ReadCloser, error) {
	p, err := m.path(u)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("open", p); err != nil {
		return nil, err
	}
	n, ok := m.nodes[p]
	if !ok {
		return nil, notExist("open", p)
	}
	if n.mode.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: p, Err: syscall.EISDIR}
	}
	if n.mode.Perm()&0o400 == 0 {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrPermission}
	}
	return &memReader{m: m, p: p, r: bytes.NewReader(slices.Clone(n.data))}, nil
}

type memReader struct {
	m *MemBackend
	p string
	r *bytes.Reader
}

func (r *memReader) Read(b []byte) (int, error) {
	r.m.mu.Lock()
	err := r.m.fault("read", r.p)
	r.m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return r.r.Read(b)
}

func (r *memReader) Close() error { return nil }

// Create makes an empty file at once. Written content becomes visible on
// Close.
func (m *MemBackend) Create(ctx context.Context, u fop.URL, perm fs.FileMode) (io.WriteCloser, error) {
	p, err := m.path(u)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("create", p); err != nil {
		return nil, err
	}
	if err := m.writableParent("create", p); err != nil {
		return nil, err
	}
	n, ok := m.nodes[p]
	switch {
	case !ok:
		n = m.newNode(perm.Perm())
		m.nodes[p] = n
	case n.mode.IsDir():
		return nil, &fs.PathError{Op: "create", Path: p, Err: syscall.EISDIR}
	default:
		n.data = nil
	}
	return &memWriter{m: m, p: p, node: n}, nil
}

type memWriter struct {
	m    *MemBackend
	p    string
	node *memNode
	buf  bytes.Buffer
}

func (w *memWriter) Write(b []byte) (int, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if err := w.m.fault("write", w.p); err != nil {
		return 0, err
	}
	if w.m.free >= 0 && int64(w.buf.Len()+len(b)) > w.m.free {
		return 0, &fs.PathError{Op: "write", Path: w.p, Err: syscall.ENOSPC}
	}
	return w.buf.Write(b)
}

func (w *memWriter) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.node.data = slices.Clone(w.buf.Bytes())
	return nil
}

func (m *MemBackend) Mkdir(ctx context.Context, u fop.URL, perm fs.FileMode) error {
	p, err := m.path(u)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("mkdir", p); err != nil {
		return err
	}
	if _, ok := m.nodes[p]; ok {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if err := m.writableParent("mkdir", p); err != nil {
		return err
	}
	m.nodes[p] = m.newNode(fs.ModeDir | perm.Perm())
	return nil
}

func (m *MemBackend) Remove(ctx context.Context, u fop.URL) error {
	p, err := m.path(u)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("remove", p); err != nil {
		return err
	}
	n, ok := m.nodes[p]
	if !ok {
		return notExist("remove", p)
	}
	if err := m.writableParent("remove", p); err != nil {
		return err
	}
	if n.mode.IsDir() && len(m.children(p)) > 0 {
		return &fs.PathError{Op: "remove", Path: p, Err: syscall.ENOTEMPTY}
	}
	delete(m.nodes, p)
	return nil
}

// Rename moves a whole subtree, replacing a file or an empty directory at
// the target.
func (m *MemBackend) Rename(ctx context.Context, from, to fop.URL) error {
	src, err := m.path(from)
	if err != nil {
		return err
	}
	dst, err := m.path(to)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("rename", src); err != nil {
		return err
	}
	n, ok := m.nodes[src]
	if !ok {
		return notExist("rename", src)
	}
	if err := m.writableParent("rename", dst); err != nil {
		return err
	}
	if existing, ok := m.nodes[dst]; ok && existing.mode.IsDir() && len(m.children(dst)) > 0 {
		return &fs.PathError{Op: "rename", Path: dst, Err: syscall.ENOTEMPTY}
	}
	if n.mode.IsDir() && strings.HasPrefix(dst, src+"/") {
		return &fs.PathError{Op: "rename", Path: dst, Err: syscall.EINVAL}
	}
	moved := map[string]*memNode{dst: n}
	for p, child := range m.nodes {
		if strings.HasPrefix(p, src+"/") {
			moved[dst+strings.TrimPrefix(p, src)] = child
			delete(m.nodes, p)
		}
	}
	delete(m.nodes, src)
	for p, child := range moved {
		m.nodes[p] = child
	}
	return nil
}

func (m *MemBackend) Chmod(ctx context.Context, u fop.URL, mode fs.FileMode) error {
	p, err := m.path(u)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("chmod", p); err != nil {
		return err
	}
	n, ok := m.nodes[p]
	if !ok {
		return notExist("chmod", p)
	}
	n.mode = n.mode.Type() | mode.Perm()
	return nil
}

func (m *MemBackend) Chtimes(ctx context.Context, u fop.URL, atime, mtime time.Time) error {
	p, err := m.path(u)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[p]
	if !ok {
		return notExist("chtimes", p)
	}
	n.atime, n.modTime = atime, mtime
	return nil
}

func (m *MemBackend) Symlink(ctx context.Context, target string, link fop.URL) error {
	p, err := m.path(link)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("symlink", p); err != nil {
		return err
	}
	if _, ok := m.nodes[p]; ok {
		return &fs.PathError{Op: "symlink", Path: p, Err: fs.ErrExist}
	}
	if err := m.writableParent("symlink", p); err != nil {
		return err
	}
	n := m.newNode(fs.ModeSymlink | 0o777)
	n.target = target
	m.nodes[p] = n
	return nil
}

func (m *MemBackend) Link(ctx context.Context, existing, link fop.URL) error {
	src, err := m.path(existing)
	if err != nil {
		return err
	}
	p, err := m.path(link)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("link", p); err != nil {
		return err
	}
	n, ok := m.nodes[src]
	if !ok {
		return notExist("link", src)
	}
	if n.mode.IsDir() {
		return &fs.PathError{Op: "link", Path: src, Err: fs.ErrPermission}
	}
	if _, ok := m.nodes[p]; ok {
		return &fs.PathError{Op: "link", Path: p, Err: fs.ErrExist}
	}
	if err := m.writableParent("link", p); err != nil {
		return err
	}
	m.nodes[p] = n
	return nil
}

func (m *MemBackend) Readlink(ctx context.Context, u fop.URL) (string, error) {
	p, err := m.path(u)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[p]
	if !ok {
		return "", notExist("readlink", p)
	}
	if n.mode&fs.ModeSymlink == 0 {
		return "", &fs.PathError{Op: "readlink", Path: p, Err: syscall.EINVAL}
	}
	return n.target, nil
}

func (m *MemBackend) FreeBytes(ctx context.Context, u fop.URL) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.free < 0 {
		return 0, fmt.Errorf("%w: free space", fop.ErrNotSupported)
	}
	return m.free, nil
}

var (
	_ fop.Backend       = (*MemBackend)(nil)
	_ fop.Renamer       = (*MemBackend)(nil)
	_ fop.AttrSetter    = (*MemBackend)(nil)
	_ fop.Linker        = (*MemBackend)(nil)
	_ fop.SpaceReporter = (*MemBackend)(nil)
)
