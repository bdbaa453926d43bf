package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/consumer"
	"github.com/any-hub/imgcache/internal/proxy"
	"github.com/any-hub/imgcache/internal/server"
)

// Engine 是维护接口依赖的缓存能力，*cache.Engine 满足该接口。
type Engine interface {
	FetchExplicit(ctx context.Context, rawURL string, headers http.Header, permanent bool, name string, clobber bool) (*cache.StoredFile, error)
	Flush(ctx context.Context, ns cache.Namespace) bool
	PruneNow(ctx context.Context) (cache.PruneResult, error)
	Locks() *cache.LockRegistry
	Store() cache.Store
}

// RegisterMaintenanceRoutes 暴露 /-/prefetch、/-/prune、/-/namespaces 与 /-/locks 运维接口。
func RegisterMaintenanceRoutes(app *fiber.App, engine Engine, policy consumer.URLPolicy, logger *logrus.Logger) {
	if app == nil || engine == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Post("/-/prefetch", func(c fiber.Ctx) error {
		var req prefetchRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return proxy.WriteError(c, fiber.StatusBadRequest, "invalid_body")
		}
		req.URL = strings.TrimSpace(req.URL)
		if err := policy.Validate(req.URL); err != nil {
			return proxy.WriteError(c, fiber.StatusBadRequest, "invalid_source")
		}
		file, err := engine.FetchExplicit(requestContext(c), req.URL, nil, req.Permanent, strings.TrimSpace(req.Name), req.Clobber)
		if err != nil {
			status, code := proxy.ErrorStatus(err)
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "prefetch",
				"url":        req.URL,
				"request_id": server.RequestID(c),
			}).Warn("prefetch_failed")
			return proxy.WriteError(c, status, code)
		}
		return c.Status(fiber.StatusCreated).JSON(file)
	})

	app.Post("/-/prune", func(c fiber.Ctx) error {
		result, err := engine.PruneNow(requestContext(c))
		if err != nil {
			status, code := proxy.ErrorStatus(err)
			return proxy.WriteError(c, status, code)
		}
		return c.JSON(result)
	})

	app.Get("/-/namespaces", func(c fiber.Ctx) error {
		payload, err := encodeNamespaces(requestContext(c), engine.Store())
		if err != nil {
			status, code := proxy.ErrorStatus(err)
			return proxy.WriteError(c, status, code)
		}
		return c.JSON(fiber.Map{"namespaces": payload})
	})

	app.Delete("/-/namespaces/:ns", func(c fiber.Ctx) error {
		ns, err := cache.ParseNamespace(strings.TrimSpace(c.Params("ns")))
		if err != nil {
			return proxy.WriteError(c, fiber.StatusBadRequest, "invalid_namespace")
		}
		if !engine.Flush(requestContext(c), ns) {
			return proxy.WriteError(c, fiber.StatusInternalServerError, "flush_failed")
		}
		return c.JSON(fiber.Map{"namespace": ns, "flushed": true})
	})

	app.Get("/-/locks/:key", func(c fiber.Ctx) error {
		key := strings.TrimSpace(c.Params("key"))
		if key == "" {
			return proxy.WriteError(c, fiber.StatusBadRequest, "key_required")
		}
		holders := engine.Locks().Holders(key)
		if holders == nil {
			holders = []string{}
		}
		return c.JSON(fiber.Map{"key": key, "locked": len(holders) > 0, "holders": holders})
	})
}

type prefetchRequest struct {
	URL       string `json:"url"`
	Permanent bool   `json:"permanent"`
	Name      string `json:"name"`
	Clobber   bool   `json:"clobber"`
}

type namespacePayload struct {
	Namespace cache.Namespace `json:"namespace"`
	Files     int             `json:"files"`
	Bytes     int64           `json:"bytes"`
	Human     string          `json:"human"`
}

func encodeNamespaces(ctx context.Context, store cache.Store) ([]namespacePayload, error) {
	namespaces := cache.Namespaces()
	sort.Slice(namespaces, func(i, j int) bool {
		return namespaces[i] < namespaces[j]
	})
	result := make([]namespacePayload, 0, len(namespaces))
	for _, ns := range namespaces {
		files, err := store.List(ctx, ns)
		if err != nil {
			return nil, err
		}
		item := namespacePayload{Namespace: ns, Files: len(files)}
		for _, file := range files {
			item.Bytes += file.SizeBytes
		}
		item.Human = units.BytesSize(float64(item.Bytes))
		result = append(result, item)
	}
	return result, nil
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
