package cache

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Namespace 是缓存文件的保留级别。
type Namespace string

const (
	// NamespacePermanent 下的文件永不被自动淘汰。
	NamespacePermanent Namespace = "permanent"
	// NamespaceCache 下的文件受 PruneLimit 约束，按最旧优先淘汰。
	NamespaceCache Namespace = "cache"
)

// incompleteSuffix 标记下载中的临时文件：<root>/<namespace>/<key>.incomplete。
const incompleteSuffix = ".incomplete"

// ValidateKeyName 要求 key 是命名空间目录下的单个文件名：不含分隔符，不是 . 或 ..，
// 也不能与临时文件后缀冲突。
func ValidateKeyName(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return fmt.Errorf("key %q: %w", key, ErrInvalidPath)
	case filepath.Base(key) != key, strings.ContainsAny(key, `/\`):
		return fmt.Errorf("key %q is not a plain file name: %w", key, ErrInvalidPath)
	case strings.HasSuffix(key, incompleteSuffix):
		return fmt.Errorf("key %q uses the temp suffix: %w", key, ErrInvalidPath)
	}
	return nil
}

// Namespaces 按读取优先级返回全部命名空间（permanent 优先）。
func Namespaces() []Namespace {
	return []Namespace{NamespacePermanent, NamespaceCache}
}

// ParseNamespace 将外部输入标准化为 Namespace。
func ParseNamespace(raw string) (Namespace, error) {
	ns := Namespace(strings.ToLower(strings.TrimSpace(raw)))
	if !ns.Valid() {
		return "", fmt.Errorf("%q: %w", raw, ErrUnknownNamespace)
	}
	return ns, nil
}

// Valid reports whether ns is one of the known namespaces.
func (ns Namespace) Valid() bool {
	return ns == NamespacePermanent || ns == NamespaceCache
}

// NamespaceFor 将 permanent 标志映射为命名空间。
func NamespaceFor(permanent bool) Namespace {
	if permanent {
		return NamespacePermanent
	}
	return NamespaceCache
}

// Store 负责 <root>/<namespace>/<key> 布局下的存在性判断、读路径解析与原子写入。
// 所有路径在触碰文件系统前都经过 PathGuard 校验。
type Store interface {
	// Exists 判断 namespace 下是否已存在 key 对应的普通文件。
	Exists(ctx context.Context, ns Namespace, key string) (bool, error)

	// ResolvePath 返回经过沙箱校验的绝对路径，不要求文件存在。
	ResolvePath(ns Namespace, key string) (string, error)

	// ResolveForRead 先查 permanent 再查 cache，均未命中返回 ErrNotFound。
	ResolveForRead(ctx context.Context, key string) (*StoredFile, error)

	// Stat 返回单个文件的描述，不存在时返回 ErrNotFound。
	Stat(ctx context.Context, ns Namespace, key string) (*StoredFile, error)

	// Open 返回可流式读取的缓存条目。
	Open(ctx context.Context, ns Namespace, key string) (*ReadResult, error)

	// List 返回 namespace 下的全部已提交文件（跳过目录与 .incomplete 临时文件）；
	// 目录不存在时返回空结果。
	List(ctx context.Context, ns Namespace) ([]StoredFile, error)

	// Commit 将 body 写入 <key>.incomplete 后 rename 到最终路径。失败时清理临时文件，
	// 最终路径上不会留下半成品。
	Commit(ctx context.Context, ns Namespace, key string, body io.Reader, opts CommitOptions) (*StoredFile, error)

	// Remove 删除单个文件，文件不存在视为成功。
	Remove(ctx context.Context, ns Namespace, key string) error

	// RemoveNamespace 删除整个命名空间子树。
	RemoveNamespace(ctx context.Context, ns Namespace) error

	// Guard 返回 Store 使用的沙箱。
	Guard() *PathGuard
}

// CommitOptions 控制写入过程中的可选属性。
type CommitOptions struct {
	// Clobber 为 false 时，若 rename 前最终路径已存在则返回 ErrAlreadyExists。
	Clobber bool
}

// StoredFile 描述一个已提交的缓存文件。
type StoredFile struct {
	Key       string    `json:"key"`
	Namespace Namespace `json:"namespace"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 StoredFile 与正文 Reader，便于 HTTP 层直接流式返回。
type ReadResult struct {
	File   StoredFile
	Reader io.ReadSeekCloser
}
