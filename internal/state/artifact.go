package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/statuskeeper/internal/types"
)

var (
	ErrInvalidName = errors.New("invalid artifact name")
	ErrNotFound    = errors.New("artifact not found")
)

const tempPrefix = ".tmp-"

// Artifact describes one persisted file.
type Artifact struct {
	Name    string     `json:"name"`
	Kind    types.Kind `json:"kind"`
	Size    int64      `json:"size"`
	ModTime time.Time  `json:"mod_time"`
}

// ArtifactStore writes one file per derived name into a flat directory.
// Files are created atomically and never overwritten.
type ArtifactStore struct {
	root  string
	index Index

	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

// NewArtifactStore creates a store rooted at dir. A nil index keeps the
// existence index in memory.
func NewArtifactStore(dir string, index Index) *ArtifactStore {
	if index == nil {
		index = NewMemoryIndex()
	}
	return &ArtifactStore{
		root:  dir,
		index: index,
		locks: make(map[string]*nameLock),
	}
}

func (a *ArtifactStore) Dir() string { return a.root }

// Init creates the directory, removes temp files left by an interrupted
// write and warms the existence index.
func (a *ArtifactStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	entries, err := os.ReadDir(a.root)
	if err != nil {
		return fmt.Errorf("read artifact dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			os.Remove(filepath.Join(a.root, e.Name()))
			continue
		}
		if visible(e) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil
	}
	if err := a.index.Add(ctx, names...); err != nil {
		slog.Warn("artifact index warm-up failed, using directory", "error", err)
	}
	return nil
}

// Exists reports whether an artifact with this name has been written. The
// index answers positives; negatives and index failures are resolved
// against the directory, which stays authoritative.
func (a *ArtifactStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	ok, err := a.index.Has(ctx, name)
	if err != nil {
		slog.Warn("artifact index query failed, using directory", "name", name, "error", err)
	}
	if ok {
		return true, nil
	}
	if _, err := os.Stat(a.path(name)); err == nil {
		a.indexAdd(ctx, name)
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat artifact: %w", err)
	}
	return false, nil
}

// Put writes data under name unless a file with that name already exists.
// created is false for a duplicate, which is not an error. The write goes to
// a hidden temp file that is synced and then hard-linked into place, so a
// reader never observes a partial artifact.
func (a *ArtifactStore) Put(ctx context.Context, name string, kind types.Kind, data []byte) (*Artifact, bool, error) {
	if err := checkName(name); err != nil {
		return nil, false, err
	}

	unlock := a.lock(name)
	defer unlock()

	target := a.path(name)
	if info, err := os.Stat(target); err == nil {
		a.indexAdd(ctx, name)
		return toArtifact(info, kind), false, nil
	}

	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return nil, false, fmt.Errorf("create artifact dir: %w", err)
	}

	tmp := filepath.Join(a.root, tempPrefix+uuid.New().String())
	if err := writeSynced(tmp, data); err != nil {
		os.Remove(tmp)
		return nil, false, err
	}
	defer os.Remove(tmp)

	created := true
	if err := os.Link(tmp, target); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return nil, false, fmt.Errorf("link artifact: %w", err)
		}
		created = false
	}
	if created {
		if err := syncDir(a.root); err != nil {
			slog.Warn("artifact dir sync failed", "error", err)
		}
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, false, fmt.Errorf("stat artifact: %w", err)
	}
	// The file is committed at this point; a stale index only costs a stat.
	a.indexAdd(ctx, name)
	return toArtifact(info, kind), created, nil
}

func (a *ArtifactStore) indexAdd(ctx context.Context, name string) {
	if err := a.index.Add(ctx, name); err != nil {
		slog.Warn("artifact index update failed", "name", name, "error", err)
	}
}

// List returns all artifact filenames, sorted.
func (a *ArtifactStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if visible(e) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the content of one artifact. Only bare base names are
// accepted.
func (a *ArtifactStore) Read(_ context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Stat returns the metadata of one artifact.
func (a *ArtifactStore) Stat(_ context.Context, name string) (*Artifact, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	info, err := os.Stat(a.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	return toArtifact(info, KindOf(name)), nil
}

// KindOf infers the artifact kind from its extension.
func KindOf(name string) types.Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return types.KindText
	case ".jpg", ".jpeg":
		return types.KindImage
	default:
		return types.KindOther
	}
}

func (a *ArtifactStore) path(name string) string {
	return filepath.Join(a.root, name)
}

// lock serializes puts of one name and returns the release func.
func (a *ArtifactStore) lock(name string) func() {
	a.mu.Lock()
	l, ok := a.locks[name]
	if !ok {
		l = &nameLock{}
		a.locks[name] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, name)
		}
		a.mu.Unlock()
	}
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) ||
		filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func visible(e os.DirEntry) bool {
	return e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".")
}

func toArtifact(info os.FileInfo, kind types.Kind) *Artifact {
	return &Artifact{
		Name:    info.Name(),
		Kind:    kind,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

// writeSynced writes data to a new file and fsyncs it before closing.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

// syncDir fsyncs a directory so a completed rename or link survives a crash.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
