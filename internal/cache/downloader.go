package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/logging"
)

// Fetcher 抽象 HTTP 传输层，*http.Client 天然满足该接口，测试中可注入桩实现。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// HeaderApplier 将调用方 headers 写入上游请求；默认逐项 Add。
type HeaderApplier func(dst, src http.Header)

// Downloader 负责“校验路径 → clobber 检查 → 淘汰 → 下载到 .incomplete → rename”的完整提交流程。
type Downloader struct {
	store   Store
	evictor *Evictor
	fetcher Fetcher
	headers HeaderApplier
	logger  *logrus.Logger
}

// NewDownloader 构造 Downloader。fetcher 为空时使用 http.DefaultClient。
func NewDownloader(store Store, evictor *Evictor, fetcher Fetcher, applier HeaderApplier, logger *logrus.Logger) *Downloader {
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	if applier == nil {
		applier = addHeaders
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Downloader{
		store:   store,
		evictor: evictor,
		fetcher: fetcher,
		headers: applier,
		logger:  logger,
	}
}

// Fetch 下载 rawURL 并提交到 <ns>/<key>。临时文件由 Store.Commit 在持有条目锁时清理。
func (d *Downloader) Fetch(ctx context.Context, rawURL string, headers http.Header, ns Namespace, key string, clobber bool) (*StoredFile, error) {
	started := time.Now()

	target, err := d.store.ResolvePath(ns, key)
	if err != nil {
		return nil, err
	}

	if !clobber {
		exists, err := d.store.Exists(ctx, ns, key)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("a file already exists at %s and clobber is set to false: %w", target, ErrAlreadyExists)
		}
	}

	file, err := d.download(ctx, rawURL, headers, ns, key, clobber)
	if err != nil {
		d.logFetch(rawURL, ns, key, started, nil, err)
		return nil, err
	}

	d.logFetch(rawURL, ns, key, started, file, nil)
	return file, nil
}

func (d *Downloader) download(ctx context.Context, rawURL string, headers http.Header, ns Namespace, key string, clobber bool) (*StoredFile, error) {
	if ns == NamespaceCache && d.evictor != nil {
		if _, err := d.evictor.Prune(ctx, ns); err != nil {
			return nil, fmt.Errorf("prune before fetch: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if len(headers) > 0 {
		d.headers(req.Header, headers)
	}

	resp, err := d.fetcher.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrNetworkFailure, resp.StatusCode, rawURL)
	}

	return d.store.Commit(ctx, ns, key, &networkReader{r: resp.Body}, CommitOptions{Clobber: clobber})
}

func (d *Downloader) logFetch(rawURL string, ns Namespace, key string, started time.Time, file *StoredFile, err error) {
	fields := logging.CacheFields("cache_fetch", string(ns), key)
	fields["url"] = rawURL
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if file != nil {
		fields["size_bytes"] = file.SizeBytes
	}
	if err != nil {
		d.logger.WithError(err).WithFields(fields).Warn("cache_fetch_failed")
		return
	}
	d.logger.WithFields(fields).Info("cache_fetch")
}

// networkReader 将读取响应体时的错误标记为 ErrNetworkFailure，与本地写盘错误区分开。
type networkReader struct {
	r io.Reader
}

func (n *networkReader) Read(p []byte) (int, error) {
	count, err := n.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return count, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	return count, err
}

func addHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
