package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const healthTimeout = 2 * time.Second

// Services bundles what the routes call into.
type Services struct {
	Accounts Accounts
	Boards   Boards
	Cards    Cards
	Health   Pinger
}

// Register wires up all API routes on the provided Echo instance. idem may be
// nil to disable Idempotency-Key handling.
func Register(e *echo.Echo, svc Services, auth Authenticator, idem *IdempotencyStore, logger *log.Logger) {
	e.GET("/healthz", healthz(svc.Health))

	api := e.Group("/api")
	api.POST("/auth/register", register(svc.Accounts, logger))
	api.POST("/auth/login", login(svc.Accounts, logger))

	user := RequireUser(auth, logger)
	replay := Idempotency(idem, logger)
	api.GET("/auth/me", me(svc.Accounts, logger), user)

	api.GET("/boards", listBoards(svc.Boards, logger), user)
	api.POST("/boards", createBoard(svc.Boards, logger), user, replay)
	api.GET("/boards/:id", getBoard(svc.Boards, logger), user)
	api.PUT("/boards/:id", updateBoard(svc.Boards, logger), user)
	api.DELETE("/boards/:id", deleteBoard(svc.Boards, logger), user)
	api.POST("/boards/:id/columns", addColumn(svc.Boards, logger), user, replay)

	api.POST("/columns/move", moveColumn(svc.Boards, logger), user, replay)
	api.PUT("/columns/:id", renameColumn(svc.Boards, logger), user)
	api.DELETE("/columns/:id", deleteColumn(svc.Boards, logger), user)

	api.GET("/cards/overdue", listOverdue(svc.Cards, logger), user)
	api.POST("/cards/move", moveCard(svc.Cards, logger), user, replay)
	api.POST("/cards", createCard(svc.Cards, logger), user, replay)
	api.PUT("/cards/:id", updateCard(svc.Cards, logger), user)
	api.DELETE("/cards/:id", deleteCard(svc.Cards, logger), user)
}

type healthResponse struct {
	Status string `json:"status"`
}

func healthz(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if p == nil {
			return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			c.Logger().Warnf("health check failed: %v", err)
			return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		}
		return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	}
}

func register(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req registerRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		session, err := accounts.Register(c.Request().Context(), req.Email, req.Password, req.Name)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, session)
	}
}

func login(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		session, err := accounts.Login(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, session)
	}
}

func me(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := accounts.Profile(c.Request().Context(), userIDFrom(c))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, userResponse{User: *user})
	}
}
