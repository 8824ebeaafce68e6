package middleware

import (
	"github.com/labstack/echo/v4"
)

//contextに入っているroleがADMINかどうかを確認します。

func AdminRoleGuard() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFrom(c)
			if !ok {
				return unauthorized(c)
			}

			//USERは拒否、ADMINだけ許可
			if !actor.IsAdmin() {
				return forbidden(c, "admin only")
			}

			return next(c)
		}
	}
}
