package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// NewStore 以 root 为根目录构建磁盘缓存，同一个 root 应在进程内复用一份实例。
func NewStore(root string) (Store, error) {
	guard, err := NewPathGuard(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(guard.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	return &fileStore{
		guard: guard,
		locks: make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一 namespace/key 的提交，避免两个写入者共享同一个临时文件。
type fileStore struct {
	guard *PathGuard

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Guard() *PathGuard {
	return s.guard
}

func (s *fileStore) ResolvePath(ns Namespace, key string) (string, error) {
	if !ns.Valid() {
		return "", fmt.Errorf("%q: %w", ns, ErrUnknownNamespace)
	}
	if err := ValidateKeyName(key); err != nil {
		return "", err
	}
	return s.guard.Resolve(filepath.Join(string(ns), key))
}

func (s *fileStore) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	_, err := s.Stat(ctx, ns, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *fileStore) Stat(ctx context.Context, ns Namespace, key string) (*StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.ResolvePath(ns, key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	return &StoredFile{
		Key:       key,
		Namespace: ns,
		Path:      filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) ResolveForRead(ctx context.Context, key string) (*StoredFile, error) {
	for _, ns := range Namespaces() {
		file, err := s.Stat(ctx, ns, key)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *fileStore) Open(ctx context.Context, ns Namespace, key string) (*ReadResult, error) {
	file, err := s.Stat(ctx, ns, key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(file.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{
		File:   *file,
		Reader: f,
	}, nil
}

func (s *fileStore) List(ctx context.Context, ns Namespace) ([]StoredFile, error) {
	dir, err := s.namespaceDir(ns)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	files := make([]StoredFile, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, incompleteSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// 列举与删除并发时文件可能已经消失。
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, StoredFile{
			Key:       name,
			Namespace: ns,
			Path:      filepath.Join(dir, name),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	return files, nil
}

func (s *fileStore) Commit(ctx context.Context, ns Namespace, key string, body io.Reader, opts CommitOptions) (*StoredFile, error) {
	filePath, err := s.ResolvePath(ns, key)
	if err != nil {
		return nil, err
	}
	tempName := filePath + incompleteSuffix
	if err := s.guard.Validate(tempName); err != nil {
		return nil, err
	}

	unlock := s.lockEntry(ns, key)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.OpenFile(tempName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if !opts.Clobber {
		if _, statErr := os.Stat(filePath); statErr == nil {
			os.Remove(tempName)
			return nil, fmt.Errorf("%s: %w", filePath, ErrAlreadyExists)
		}
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	modTime := time.Now()
	if info, statErr := os.Stat(filePath); statErr == nil {
		modTime = info.ModTime()
	}

	return &StoredFile{
		Key:       key,
		Namespace: ns,
		Path:      filePath,
		SizeBytes: written,
		ModTime:   modTime,
	}, nil
}

func (s *fileStore) Remove(ctx context.Context, ns Namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.ResolvePath(ns, key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) RemoveNamespace(ctx context.Context, ns Namespace) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := s.namespaceDir(ns)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *fileStore) namespaceDir(ns Namespace) (string, error) {
	if !ns.Valid() {
		return "", fmt.Errorf("%q: %w", ns, ErrUnknownNamespace)
	}
	return s.guard.Resolve(string(ns))
}

func (s *fileStore) lockEntry(ns Namespace, key string) func() {
	id := string(ns) + "::" + key
	s.mu.Lock()
	lock := s.locks[id]
	if lock == nil {
		lock = &entryLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
