package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/imgcache/internal/logging"
)

// DefaultDirName 是 CacheRoot 下的默认命名空间目录，避免与其它数据冲突。
const DefaultDirName = "imgcache"

// Options 描述 Engine 的依赖。Locks 为空时新建一个独立的 LockRegistry。
type Options struct {
	// BasePath 是平台相关的基础目录，CacheRoot = BasePath/DirName。
	BasePath   string
	DirName    string
	PruneLimit int64

	Locks         *LockRegistry
	Fetcher       Fetcher
	ContentTypes  ContentTypeResolver
	HeaderApplier HeaderApplier
	Logger        *logrus.Logger
}

// Engine 组合 KeyDeriver/Store/LockRegistry/Evictor/Downloader，对外暴露
// Resolve、FetchExplicit、Flush、Lock/Unlock 与 PruneNow。所有方法均可并发调用。
type Engine struct {
	keys       *KeyDeriver
	store      Store
	locks      *LockRegistry
	evictor    *Evictor
	downloader *Downloader
	logger     *logrus.Logger

	resolveGroup singleflight.Group
}

// New 创建 CacheRoot 并装配全部组件。
func New(opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.BasePath) == "" {
		return nil, errors.New("cache base path required")
	}
	dirName := strings.TrimSpace(opts.DirName)
	if dirName == "" {
		dirName = DefaultDirName
	}
	if filepath.IsAbs(dirName) || filepath.Clean(dirName) != dirName || strings.HasPrefix(dirName, "..") {
		return nil, fmt.Errorf("dir name %q: %w", dirName, ErrInvalidPath)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	locks := opts.Locks
	if locks == nil {
		locks = NewLockRegistry()
	}

	store, err := NewStore(filepath.Join(opts.BasePath, dirName))
	if err != nil {
		return nil, err
	}

	evictor := NewEvictor(store, locks, opts.PruneLimit, logger)
	return &Engine{
		keys:       NewKeyDeriver(opts.ContentTypes, logger),
		store:      store,
		locks:      locks,
		evictor:    evictor,
		downloader: NewDownloader(store, evictor, opts.Fetcher, opts.HeaderApplier, logger),
		logger:     logger,
	}, nil
}

// Root returns the sandboxed cache root.
func (e *Engine) Root() string {
	return e.store.Guard().Root()
}

// Store exposes the underlying store for read-side helpers.
func (e *Engine) Store() Store {
	return e.store
}

// Locks returns the shared lock registry.
func (e *Engine) Locks() *LockRegistry {
	return e.locks
}

// PruneLimit returns the cache namespace byte budget.
func (e *Engine) PruneLimit() int64 {
	return e.evictor.Budget()
}

// DeriveKey 计算 URL 对应的缓存 key。
func (e *Engine) DeriveKey(ctx context.Context, rawURL string, headers http.Header) (string, error) {
	return e.keys.Derive(ctx, rawURL, headers)
}

// Resolve 返回 URL 对应的本地文件路径：先查 permanent，再查 cache，均未命中时下载到
// permanent 或 cache。下载固定使用 clobber=true，使同一 key 的并发 Resolve 不会因
// ErrAlreadyExists 失败；同一进程内的并发未命中会合并为一次下载。
func (e *Engine) Resolve(ctx context.Context, rawURL string, headers http.Header, permanent bool) (string, error) {
	file, _, err := e.ResolveFile(ctx, rawURL, headers, permanent)
	if err != nil {
		return "", err
	}
	return file.Path, nil
}

// ResolveFile 与 Resolve 相同，但返回完整的 StoredFile 描述；fetched 表示本次调用
// 经历了一次下载（包括与其它调用方合并的下载），为 false 时即缓存命中。
func (e *Engine) ResolveFile(ctx context.Context, rawURL string, headers http.Header, permanent bool) (*StoredFile, bool, error) {
	key, err := e.keys.Derive(ctx, rawURL, headers)
	if err != nil {
		return nil, false, err
	}
	return e.resolveKey(ctx, rawURL, headers, key, permanent)
}

type resolved struct {
	file    *StoredFile
	fetched bool
}

func (e *Engine) resolveKey(ctx context.Context, rawURL string, headers http.Header, key string, permanent bool) (*StoredFile, bool, error) {
	file, err := e.store.ResolveForRead(ctx, key)
	if err == nil {
		return file, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	ns := NamespaceFor(permanent)
	fetchCtx := context.WithoutCancel(ctx)
	ch := e.resolveGroup.DoChan(string(ns)+"::"+key, func() (any, error) {
		// 另一个调用方可能刚好完成了提交。
		if file, err := e.store.ResolveForRead(fetchCtx, key); err == nil {
			return resolved{file: file}, nil
		}
		file, err := e.downloader.Fetch(fetchCtx, rawURL, headers, ns, key, true)
		if err != nil {
			return nil, err
		}
		return resolved{file: file, fetched: true}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(resolved)
		return r.file, r.fetched, nil
	}
}

// FetchExplicit 直接调用 Downloader，clobber 由调用方控制，通常用于预热单个文件。
// name 为空时使用派生的 key；非空时必须是单个文件名，不能指向命名空间之外。
func (e *Engine) FetchExplicit(ctx context.Context, rawURL string, headers http.Header, permanent bool, name string, clobber bool) (*StoredFile, error) {
	key := name
	if key != "" {
		if err := ValidateKeyName(key); err != nil {
			return nil, err
		}
	} else {
		derived, err := e.keys.Derive(ctx, rawURL, headers)
		if err != nil {
			return nil, err
		}
		key = derived
	}
	return e.downloader.Fetch(ctx, rawURL, headers, NamespaceFor(permanent), key, clobber)
}

// Warm 以最多 concurrency 个并发预热 urls，已存在的文件视为成功。
func (e *Engine) Warm(ctx context.Context, urls []string, permanent bool, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, rawURL := range urls {
		g.Go(func() error {
			_, err := e.FetchExplicit(gctx, rawURL, nil, permanent, "", false)
			if err != nil && !errors.Is(err, ErrAlreadyExists) {
				return fmt.Errorf("warm %s: %w", rawURL, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Flush 删除整个命名空间子树。失败时仅返回 false，不向上抛出错误。
func (e *Engine) Flush(ctx context.Context, ns Namespace) bool {
	fields := logging.CacheFields("cache_flush", string(ns), "")
	if err := e.store.RemoveNamespace(ctx, ns); err != nil {
		e.logger.WithError(err).WithFields(fields).Warn("cache_flush_failed")
		return false
	}
	e.logger.WithFields(fields).Info("cache_flush")
	return true
}

// Lock 为 key 添加 holderID，阻止其在淘汰中被删除。
func (e *Engine) Lock(key, holderID string) {
	e.locks.Acquire(key, holderID)
}

// Unlock 释放 holderID 对 key 的引用。
func (e *Engine) Unlock(key, holderID string) {
	e.locks.Release(key, holderID)
}

// PruneNow 立即对 cache 命名空间执行一次淘汰。
func (e *Engine) PruneNow(ctx context.Context) (PruneResult, error) {
	return e.evictor.Prune(ctx, NamespaceCache)
}
