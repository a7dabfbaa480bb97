package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"snapdiff/internal/artifact"
	"snapdiff/internal/refkey"
)

// keyIndexName is the hidden file in each snapshot directory that maps
// reference file names to the fingerprint of the key that wrote them.
const keyIndexName = ".snapdiff-keys.json"

// FSStore keeps one file per reference under Dir, at the key's location.
// Writers hold a lock per snapshot directory, which also guards its key
// index.
type FSStore struct {
	Dir string // Snapshot root, usually the project directory

	// Exclude lists directories List and Prune never descend into, such
	// as the comparison output directory.
	Exclude []string

	mu    sync.Mutex
	locks map[string]*dirLock
	now   func() time.Time
}

type dirLock struct {
	mu   sync.Mutex
	refs int
}

// NewFSStore creates a store rooted at dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{
		Dir:   dir,
		locks: make(map[string]*dirLock),
		now:   time.Now,
	}
}

// Path returns the file path for a key.
func (s *FSStore) Path(key refkey.Key) string {
	return filepath.Join(s.Dir, filepath.FromSlash(key.Location()))
}

// Location returns the file path for a key.
func (s *FSStore) Location(key refkey.Key) string {
	return s.Path(key)
}

// Get reads the reference file for key.
func (s *FSStore) Get(ctx context.Context, key refkey.Key) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}
	path := s.Path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return artifact.Artifact{}, ErrNotFound
		}
		return artifact.Artifact{}, storageErr("read", path, err)
	}

	index, err := readKeyIndex(filepath.Dir(path))
	if err != nil {
		return artifact.Artifact{}, err
	}
	if err := checkOwner(path, index[filepath.Base(path)], key); err != nil {
		return artifact.Artifact{}, err
	}

	return decode(path, artifact.ReadKind(path), data)
}

// Put writes the reference through a temp file and rename, so readers
// never see a partial file, then records key's fingerprint in the
// directory's key index.
func (s *FSStore) Put(ctx context.Context, key refkey.Key, a artifact.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(key)
	dir, name := filepath.Split(path)

	unlock := s.lock(dir)
	defer unlock()

	// Create directory if needed
	if err := os.MkdirAll(dir, 0755); err != nil {
		return storageErr("write", path, err)
	}

	index, err := readKeyIndex(dir)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		if err := checkOwner(path, index[name], key); err != nil {
			return err
		}
	}

	if err := writeFileAtomic(path, a.Data); err != nil {
		return storageErr("write", path, err)
	}

	index[name] = key.Fingerprint()
	return writeKeyIndex(dir, index)
}

// Delete removes the reference file for key.
func (s *FSStore) Delete(ctx context.Context, key refkey.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(key)
	dir, name := filepath.Split(path)

	unlock := s.lock(dir)
	defer unlock()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return storageErr("delete", path, err)
	}
	index, err := readKeyIndex(dir)
	if err != nil {
		return err
	}
	if err := checkOwner(path, index[name], key); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return storageErr("delete", path, err)
	}

	if _, ok := index[name]; !ok {
		return nil
	}
	delete(index, name)
	return writeKeyIndex(dir, index)
}

// Exists checks if a reference file exists.
func (s *FSStore) Exists(ctx context.Context, key refkey.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path := s.Path(key)
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, storageErr("read", path, err)
}

// List walks Dir for files inside *-snapshots directories.
func (s *FSStore) List(ctx context.Context) ([]Summary, error) {
	paths, err := s.referenceFiles(ctx)
	if err != nil {
		return nil, err
	}

	summaries := []Summary{}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue // Removed while listing
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue // Skip unreadable files
		}

		kind := artifact.ReadKind(path)
		summary := Summary{
			Location:  path,
			Kind:      kind,
			Size:      info.Size(),
			Checksum:  artifact.Artifact{Data: data}.Checksum(),
			UpdatedAt: info.ModTime().UTC(),
		}
		if kind == artifact.KindImage {
			if a, err := artifact.FromImageBytes(data); err == nil {
				summary.Width, summary.Height = a.Width, a.Height
			}
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// Prune removes reference files whose modification time is older than the
// given duration.
func (s *FSStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	paths, err := s.referenceFiles(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-olderThan)
	stale := make(map[string][]string)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			dir, name := filepath.Split(path)
			stale[dir] = append(stale[dir], name)
		}
	}

	deleted := 0
	for dir, names := range stale {
		n, err := s.pruneDir(dir, names)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}

func (s *FSStore) pruneDir(dir string, names []string) (int, error) {
	unlock := s.lock(dir)
	defer unlock()

	index, err := readKeyIndex(dir)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			deleted++
			delete(index, name)
		}
	}
	return deleted, writeKeyIndex(dir, index)
}

// Close is a no-op for the filesystem backend.
func (s *FSStore) Close() error {
	return nil
}

func (s *FSStore) referenceFiles(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.Dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.Dir && (strings.HasPrefix(d.Name(), ".") || s.excluded(path)) {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if strings.HasSuffix(filepath.Base(filepath.Dir(path)), "-snapshots") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, storageErr("list", s.Dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *FSStore) excluded(dir string) bool {
	for _, ex := range s.Exclude {
		if ex != "" && filepath.Clean(ex) == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

// lock serializes writers of one snapshot directory. Entries are dropped
// once no writer holds or waits on them.
func (s *FSStore) lock(dir string) (unlock func()) {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*dirLock)
	}
	l, ok := s.locks[dir]
	if !ok {
		l = &dirLock{}
		s.locks[dir] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, dir)
		}
		s.mu.Unlock()
	}
}

func readKeyIndex(dir string) (map[string]string, error) {
	path := filepath.Join(dir, keyIndexName)
	index := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, storageErr("read", path, err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, storageErr("read", path, err)
	}
	return index, nil
}

func writeKeyIndex(dir string, index map[string]string) error {
	path := filepath.Join(dir, keyIndexName)
	if len(index) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return storageErr("write", path, err)
		}
		return nil
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return storageErr("write", path, err)
	}
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return storageErr("write", path, err)
	}
	return nil
}

// writeFileAtomic writes through a temp file and rename, so readers never
// see a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapdiff-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
