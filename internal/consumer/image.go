package consumer

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/any-hub/imgcache/internal/cache"
)

// Engine 是 Image 依赖的缓存能力子集，*cache.Engine 满足该接口。
type Engine interface {
	DeriveKey(ctx context.Context, rawURL string, headers http.Header) (string, error)
	ResolveFile(ctx context.Context, rawURL string, headers http.Header, permanent bool) (*cache.StoredFile, bool, error)
	Lock(key, holderID string)
	Unlock(key, holderID string)
}

// ErrNotMounted 表示在 Mount 之前读取了本地文件。
var ErrNotMounted = errors.New("image not mounted")

// Image 对应一个正在展示的图片：Mount 时加锁并解析本地路径，Unmount 时释放锁。
// 锁在解析之前获取，因此 Mount 期间的并发淘汰不会删除该文件。
type Image struct {
	engine    Engine
	holderID  string
	source    string
	headers   http.Header
	permanent bool

	mu      sync.Mutex
	key     string
	file    *cache.StoredFile
	fetched bool
	mounted bool
}

// Options 控制 Image 的构造。HolderID 为空时生成 uuid。
type Options struct {
	HolderID  string
	Headers   http.Header
	Permanent bool
}

// NewImage 校验来源 URL 并构造 Image。
func NewImage(engine Engine, policy URLPolicy, source string, opts Options) (*Image, error) {
	if err := policy.Validate(source); err != nil {
		return nil, err
	}
	holderID := opts.HolderID
	if holderID == "" {
		holderID = uuid.NewString()
	}
	return &Image{
		engine:    engine,
		holderID:  holderID,
		source:    source,
		headers:   opts.Headers,
		permanent: opts.Permanent,
	}, nil
}

// HolderID returns the lock holder identity of this image.
func (img *Image) HolderID() string {
	return img.holderID
}

// Key 返回已派生的缓存 key，Mount 之前为空。
func (img *Image) Key() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.key
}

// Mount 派生 key、加锁并解析本地文件。解析失败时锁仍保留，直到 Unmount。
func (img *Image) Mount(ctx context.Context) (*cache.StoredFile, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.key == "" {
		key, err := img.engine.DeriveKey(ctx, img.source, img.headers)
		if err != nil {
			return nil, err
		}
		img.key = key
	}
	if !img.mounted {
		img.engine.Lock(img.key, img.holderID)
		img.mounted = true
	}

	file, fetched, err := img.engine.ResolveFile(ctx, img.source, img.headers, img.permanent)
	if err != nil {
		return nil, err
	}
	img.file = file
	img.fetched = fetched
	return file, nil
}

// LocalFile 返回 Mount 解析到的文件。
func (img *Image) LocalFile() (*cache.StoredFile, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.file == nil {
		return nil, ErrNotMounted
	}
	return img.file, nil
}

// Fetched 表示最近一次 Mount 是否触发了下载；false 即命中本地缓存。
func (img *Image) Fetched() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.fetched
}

// Unmount 释放锁，可重复调用。
func (img *Image) Unmount() {
	img.mu.Lock()
	defer img.mu.Unlock()
	if !img.mounted {
		return
	}
	img.engine.Unlock(img.key, img.holderID)
	img.mounted = false
	img.file = nil
	img.fetched = false
}
