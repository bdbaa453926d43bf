package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ImagePath 是图片代理入口，源地址通过 url 查询参数传入。
const ImagePath = "/-/image"

// ImageHandler describes the component that serves cached images. It allows
// injecting fake handlers during tests.
type ImageHandler interface {
	Handle(fiber.Ctx) error
}

// ImageHandlerFunc adapts a function to the ImageHandler interface.
type ImageHandlerFunc func(fiber.Ctx) error

// Handle makes ImageHandlerFunc satisfy ImageHandler.
func (f ImageHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Images     ImageHandler
	ListenPort int
}

const contextKeyRequestID = "_imgcache_request_id"

// NewApp builds a Fiber application with request-ID middleware, the image
// route, and structured 404 handling. Callers register extra routes on the
// returned app before Listen.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Get(ImagePath, opts.Images.Handle)
	app.Head(ImagePath, opts.Images.Handle)

	return app, nil
}

// NotFound 作为最后注册的中间件，输出统一的 JSON 404。
func NotFound(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"action":     "route_lookup",
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": RequestID(c),
			}).Debug("route_not_found")
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found",
		})
	}
}

// requestContextMiddleware 负责生成请求 ID，并写回 X-Request-ID 响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
