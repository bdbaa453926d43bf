package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

// Extension 是缓存文件允许的规范化扩展名。
type Extension string

const (
	ExtPNG Extension = "png"
	ExtGIF Extension = "gif"
	ExtJPG Extension = "jpg"
	ExtBMP Extension = "bmp"
)

var suffixExtensions = map[string]Extension{
	"png":  ExtPNG,
	"gif":  ExtGIF,
	"jpg":  ExtJPG,
	"jpeg": ExtJPG,
	"bmp":  ExtBMP,
}

var mediaTypeExtensions = map[string]Extension{
	"image/png":  ExtPNG,
	"image/gif":  ExtGIF,
	"image/jpeg": ExtJPG,
	"image/bmp":  ExtBMP,
}

// ContentType 返回扩展名对应的 MIME 类型，供 HTTP 层回写响应头。
func (e Extension) ContentType() string {
	for mediaType, ext := range mediaTypeExtensions {
		if ext == e {
			return mediaType
		}
	}
	return ""
}

// ContentTypeResolver 提供 HEAD 风格的 Content-Type 探测能力，URL 后缀无法识别时才会调用。
type ContentTypeResolver interface {
	ContentType(ctx context.Context, rawURL string, headers http.Header) (string, error)
}

// ContentTypeResolverFunc adapts a function to ContentTypeResolver.
type ContentTypeResolverFunc func(ctx context.Context, rawURL string, headers http.Header) (string, error)

// ContentType makes ContentTypeResolverFunc satisfy ContentTypeResolver.
func (f ContentTypeResolverFunc) ContentType(ctx context.Context, rawURL string, headers http.Header) (string, error) {
	return f(ctx, rawURL, headers)
}

// KeyDeriver 将资源 URL 映射为稳定的缓存 key：hex(sha1(url)) + "." + ext。
type KeyDeriver struct {
	resolver ContentTypeResolver
	logger   *logrus.Logger
}

// NewKeyDeriver 构造 KeyDeriver；resolver 为空时无后缀的 URL 直接返回 ErrUnknownFileType。
func NewKeyDeriver(resolver ContentTypeResolver, logger *logrus.Logger) *KeyDeriver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KeyDeriver{resolver: resolver, logger: logger}
}

// Derive 计算 URL 对应的缓存 key。headers 仅透传给 Content-Type 探测，不参与哈希，
// 因此同一 URL 携带不同凭证时会落在同一个 key 上。
func (d *KeyDeriver) Derive(ctx context.Context, rawURL string, headers http.Header) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	ext, ok := extensionFromPath(parsed.Path)
	if !ok {
		ext, ok = d.probe(ctx, rawURL, headers)
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", rawURL, ErrUnknownFileType)
	}

	return hashURL(rawURL) + "." + string(ext), nil
}

func (d *KeyDeriver) probe(ctx context.Context, rawURL string, headers http.Header) (Extension, bool) {
	if d.resolver == nil {
		return "", false
	}
	contentType, err := d.resolver.ContentType(ctx, rawURL, headers)
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"action": "content_type_probe",
			"url":    rawURL,
		}).Warn("content_type_probe_failed")
		return "", false
	}
	return extensionFromContentType(contentType)
}

func extensionFromPath(p string) (Extension, bool) {
	suffix := strings.TrimPrefix(path.Ext(p), ".")
	if suffix == "" {
		return "", false
	}
	ext, ok := suffixExtensions[strings.ToLower(suffix)]
	return ext, ok
}

func extensionFromContentType(raw string) (Extension, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		mediaType = raw
	}
	ext, ok := mediaTypeExtensions[strings.ToLower(mediaType)]
	return ext, ok
}

func hashURL(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// KeyExtension 校验 key 的磁盘格式（40 位十六进制 + "." + 已知扩展名）并返回扩展名。
func KeyExtension(key string) (Extension, bool) {
	hash, suffix, found := strings.Cut(key, ".")
	if !found || len(hash) != sha1.Size*2 {
		return "", false
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return "", false
	}
	ext := Extension(suffix)
	switch ext {
	case ExtPNG, ExtGIF, ExtJPG, ExtBMP:
		return ext, true
	default:
		return "", false
	}
}
