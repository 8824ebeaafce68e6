package server

import (
	appmw "marketplace/internal/middleware"

	"github.com/labstack/echo/v4"
)

func registerRoutes(e *echo.Echo, d Deps) {
	e.GET("/health", healthHandler(d.DB))
	e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))

	authed := []echo.MiddlewareFunc{
		appmw.AuthJWT(d.TokenParser),
		appmw.TokenVersionGuard(d.Users),
	}
	adminOnly := appmw.AdminRoleGuard()
	limiter := rateLimiter(d.Config.RateLimitPerSecond, d.Config.RateLimitBurst)

	d.Auth.RegisterRoutes(e.Group("/auth", limiter), authed...)
	d.Products.RegisterRoutes(e.Group("/products"))

	d.Orders.RegisterRoutes(e.Group("/orders", authed...), adminOnly, limiter)

	payments := e.Group("/payments")
	d.Payments.RegisterRoutes(payments.Group("", authed...), payments, adminOnly)

	admin := e.Group("/admin", append(authed, adminOnly)...)
	d.AdminProduct.RegisterRoutes(admin)
	d.AdminOrders.RegisterRoutes(admin)
}
