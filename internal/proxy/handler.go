package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/consumer"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/server"
)

// UpstreamHeaderPrefix 标记需要透传给源站的请求头，例如 X-Upstream-Authorization。
const UpstreamHeaderPrefix = "X-Upstream-"

// Engine 是图片 handler 依赖的缓存能力，*cache.Engine 满足该接口。
type Engine interface {
	consumer.Engine
	Store() cache.Store
}

// Handler 把 /-/image 请求映射为一次 Image 生命周期：Mount → 读取本地文件 → Unmount。
// 锁持有者即请求 ID，因此在写出响应期间文件不会被淘汰。
type Handler struct {
	engine Engine
	policy consumer.URLPolicy
	logger *logrus.Logger
}

// NewHandler constructs an image handler with shared engine/policy/logger.
func NewHandler(engine Engine, policy consumer.URLPolicy, logger *logrus.Logger) *Handler {
	return &Handler{
		engine: engine,
		policy: policy,
		logger: logger,
	}
}

// Handle 解析 url/permanent 查询参数，命中或下载后把文件写回客户端，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	source := strings.TrimSpace(c.Query("url"))

	permanent, err := parsePermanent(c.Query("permanent"))
	if err != nil {
		h.logResult(requestID, source, "", "", fiber.StatusBadRequest, false, started, err)
		return writeError(c, fiber.StatusBadRequest, "invalid_permanent")
	}

	image, err := consumer.NewImage(h.engine, h.policy, source, consumer.Options{
		HolderID:  requestID,
		Headers:   upstreamHeaders(c),
		Permanent: permanent,
	})
	if err != nil {
		status, code := errorStatus(err)
		h.logResult(requestID, source, "", "", status, false, started, err)
		return writeError(c, status, code)
	}
	defer image.Unmount()

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	file, err := image.Mount(ctx)
	if err != nil {
		status, code := errorStatus(err)
		h.logResult(requestID, source, image.Key(), "", status, false, started, err)
		return writeError(c, status, code)
	}

	return h.serveFile(c, ctx, file, !image.Fetched(), requestID, source, started)
}

func (h *Handler) serveFile(
	c fiber.Ctx,
	ctx context.Context,
	file *cache.StoredFile,
	cacheHit bool,
	requestID string,
	source string,
	started time.Time,
) error {
	ns := string(file.Namespace)

	result, err := h.engine.Store().Open(ctx, file.Namespace, file.Key)
	if err != nil {
		status, code := errorStatus(err)
		h.logResult(requestID, source, file.Key, ns, status, cacheHit, started, err)
		return writeError(c, status, code)
	}
	defer result.Reader.Close()

	if ext, ok := cache.KeyExtension(file.Key); ok {
		c.Set("Content-Type", ext.ContentType())
	}
	if result.File.SizeBytes > 0 {
		c.Response().Header.SetContentLength(int(result.File.SizeBytes))
	}
	c.Set("X-Imgcache-Key", file.Key)
	c.Set("X-Imgcache-Namespace", ns)
	c.Set("X-Imgcache-Cache-Hit", strconv.FormatBool(cacheHit))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	status := fiber.StatusOK
	c.Status(status)

	if c.Method() == http.MethodHead {
		h.logResult(requestID, source, file.Key, ns, status, cacheHit, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logResult(requestID, source, file.Key, ns, status, cacheHit, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

// errorStatus 把缓存与消费层的错误映射为 HTTP 状态码与错误码。
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, consumer.ErrInvalidSource):
		return fiber.StatusBadRequest, "invalid_source"
	case errors.Is(err, cache.ErrUnknownFileType):
		return fiber.StatusUnsupportedMediaType, "unknown_file_type"
	case errors.Is(err, cache.ErrInvalidPath):
		return fiber.StatusBadRequest, "invalid_path"
	case errors.Is(err, cache.ErrAlreadyExists):
		return fiber.StatusConflict, "already_exists"
	case errors.Is(err, cache.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, cache.ErrNetworkFailure):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream_timeout"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

// ErrorStatus exposes the error mapping to other HTTP surfaces.
func ErrorStatus(err error) (int, string) {
	return errorStatus(err)
}

// upstreamHeaders 收集带 X-Upstream- 前缀的请求头并去掉前缀；hop-by-hop 头不透传。
func upstreamHeaders(c fiber.Ctx) http.Header {
	var headers http.Header
	for key, values := range c.GetReqHeaders() {
		if len(key) <= len(UpstreamHeaderPrefix) || !strings.EqualFold(key[:len(UpstreamHeaderPrefix)], UpstreamHeaderPrefix) {
			continue
		}
		name := key[len(UpstreamHeaderPrefix):]
		if server.IsHopByHopHeader(name) {
			continue
		}
		if headers == nil {
			headers = make(http.Header)
		}
		for _, value := range values {
			headers.Add(name, value)
		}
	}
	return headers
}

func parsePermanent(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func (h *Handler) logResult(
	requestID string,
	source string,
	key string,
	namespace string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(requestID, source, key, namespace, cacheHit)
	fields["action"] = "image"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("image_failed")
		return
	}
	h.logger.WithFields(fields).Info("image_complete")
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// WriteError 输出统一的 JSON 错误体，供维护路由复用。
func WriteError(c fiber.Ctx, status int, code string) error {
	return writeError(c, status, code)
}
