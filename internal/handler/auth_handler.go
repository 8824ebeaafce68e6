package handler

import (
	"errors"
	"net/http"

	"marketplace/internal/usecase"
	auth "marketplace/internal/usecase/auth_usecase"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type AuthHandler struct {
	registerUC  *auth.RegisterUserUsecase // 会員登録usecase
	loginUC     *auth.LoginUsecase        // ログインusecase
	logoutAllUC *auth.LogoutAllUsecase
}

// DIコンストラクタ
func NewAuthHandler(registerUC *auth.RegisterUserUsecase, loginUC *auth.LoginUsecase, logoutAllUC *auth.LogoutAllUsecase) *AuthHandler {
	return &AuthHandler{registerUC: registerUC, loginUC: loginUC, logoutAllUC: logoutAllUC}
}

// /auth/register と /auth/login のリクエストボディ。
type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

// authed は logout-all だけに掛ける
func (h *AuthHandler) RegisterRoutes(g *echo.Group, authed ...echo.MiddlewareFunc) {
	g.POST("/register", h.register)
	g.POST("/login", h.login)
	g.POST("/logout-all", h.logoutAll, authed...)
}

func (h *AuthHandler) register(c echo.Context) error {
	var req credentialsRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return badRequest(c, msg)
	}

	out, err := h.registerUC.Execute(c.Request().Context(), auth.RegisterUserInput{
		Email:    req.Email,
		Password: req.Password,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, out)
	case errors.Is(err, auth.ErrInvalidEmailFormat),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrWeakPassword):
		return badRequest(c, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyExists):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: string(usecase.KindConflict)})
	default:
		return writeError(c, err)
	}
}

func (h *AuthHandler) login(c echo.Context) error {
	var req credentialsRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return badRequest(c, msg)
	}

	out, err := h.loginUC.Execute(c.Request().Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	switch {
	case err == nil:
		log.Info().Int64("user_id", out.User.ID).Msg("login succeeded")
		return c.JSON(http.StatusOK, out)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return unauthorized(c)
	case errors.Is(err, auth.ErrUserInactive):
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "user is inactive", Kind: string(usecase.KindForbidden)})
	default:
		return writeError(c, err)
	}
}

func (h *AuthHandler) logoutAll(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	err := h.logoutAllUC.Execute(c.Request().Context(), actor.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return unauthorized(c)
	}
	if err != nil {
		return writeError(c, err)
	}
	log.Info().Int64("user_id", actor.UserID).Msg("all sessions revoked")
	return c.JSON(http.StatusOK, SuccessResponse{Message: "logged out"})
}
