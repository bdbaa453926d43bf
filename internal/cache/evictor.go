package cache

import (
	"context"
	"sort"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/logging"
)

// DefaultPruneLimit 是 cache 命名空间的默认字节上限（15 MiB）。
const DefaultPruneLimit int64 = 15 * 1024 * 1024

// Evictor 将 cache 命名空间裁剪到 budget 以内：按 ModTime 从旧到新删除未加锁的文件，
// 直到溢出量 ≤ 0 或候选耗尽。
type Evictor struct {
	store  Store
	locks  *LockRegistry
	budget int64
	logger *logrus.Logger
}

// PruneResult 汇总一次淘汰的结果。Overflow > 0 表示加锁文件过多导致软上限未达成，并非错误。
type PruneResult struct {
	Namespace     Namespace    `json:"namespace"`
	Scanned       int          `json:"scanned"`
	TotalBytes    int64        `json:"total_bytes"`
	Budget        int64        `json:"budget"`
	Removed       []StoredFile `json:"removed"`
	FreedBytes    int64        `json:"freed_bytes"`
	Overflow      int64        `json:"overflow"`
	SkippedLocked int          `json:"skipped_locked"`
}

// NewEvictor 构造 Evictor；budget ≤ 0 时使用 DefaultPruneLimit。
func NewEvictor(store Store, locks *LockRegistry, budget int64, logger *logrus.Logger) *Evictor {
	if budget <= 0 {
		budget = DefaultPruneLimit
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Evictor{store: store, locks: locks, budget: budget, logger: logger}
}

// Budget returns the configured byte budget.
func (e *Evictor) Budget() int64 {
	return e.budget
}

// Prune 对 ns 执行一次淘汰。只对列举时的快照生效，之后新提交的文件留给下一轮处理。
func (e *Evictor) Prune(ctx context.Context, ns Namespace) (PruneResult, error) {
	result := PruneResult{Namespace: ns, Budget: e.budget}
	if ns == NamespacePermanent {
		return result, ErrPermanentPrune
	}

	files, err := e.store.List(ctx, ns)
	if err != nil {
		return result, err
	}
	result.Scanned = len(files)
	if len(files) == 0 {
		return result, nil
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Key < files[j].Key
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})

	for _, f := range files {
		result.TotalBytes += f.SizeBytes
	}
	if result.TotalBytes <= e.budget {
		return result, nil
	}

	overflow := result.TotalBytes - e.budget
	for _, f := range files {
		if overflow <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			result.Overflow = overflow
			return result, err
		}
		if e.locks != nil && e.locks.IsLocked(f.Key) {
			result.SkippedLocked++
			continue
		}
		if err := e.store.Guard().Validate(f.Path); err != nil {
			e.logger.WithError(err).WithFields(logging.CacheFields("cache_prune", string(ns), f.Key)).Warn("cache_prune_invalid_path")
			continue
		}
		if err := e.store.Remove(ctx, ns, f.Key); err != nil {
			e.logger.WithError(err).WithFields(logging.CacheFields("cache_prune", string(ns), f.Key)).Warn("cache_prune_remove_failed")
			continue
		}
		overflow -= f.SizeBytes
		result.FreedBytes += f.SizeBytes
		result.Removed = append(result.Removed, f)
	}
	result.Overflow = overflow

	fields := logging.CacheFields("cache_prune", string(ns), "")
	fields["scanned"] = result.Scanned
	fields["total"] = units.BytesSize(float64(result.TotalBytes))
	fields["budget"] = units.BytesSize(float64(e.budget))
	fields["freed"] = units.BytesSize(float64(result.FreedBytes))
	fields["removed"] = len(result.Removed)
	fields["skipped_locked"] = result.SkippedLocked
	entry := e.logger.WithFields(fields)
	if overflow > 0 {
		entry.Warn("cache_prune_soft_limit")
	} else {
		entry.Info("cache_prune")
	}
	return result, nil
}
