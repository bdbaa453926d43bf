package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard 将所有路径限制在 CacheRoot 之内（伪 chroot），任何写入或删除之前都必须先校验。
type PathGuard struct {
	root string
}

// NewPathGuard 以 root 的绝对路径构造 PathGuard。
func NewPathGuard(root string) (*PathGuard, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	return &PathGuard{root: filepath.Clean(abs)}, nil
}

// Root returns the sandbox directory.
func (g *PathGuard) Root() string {
	return g.root
}

// Validate 校验 path 解析后仍位于 root 之内。相对路径基于 root 解析，绝对路径直接检查；
// ".." 片段在比较前统一由 filepath.Clean 归一。
func (g *PathGuard) Validate(path string) error {
	_, err := g.Resolve(path)
	return err
}

// Resolve 返回校验通过的绝对路径。
func (g *PathGuard) Resolve(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(g.root, resolved)
	}
	resolved = filepath.Clean(resolved)

	prefix := g.root
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	if resolved != g.root && !strings.HasPrefix(resolved, prefix) {
		return "", fmt.Errorf("%s is not a valid file path: %w", resolved, ErrInvalidPath)
	}
	return resolved, nil
}
