package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

func createCard(cards Cards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createCardRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		due, err := parseDueDatePtr(req.DueDate)
		if err != nil {
			return respondError(c, logger, err)
		}
		card, err := cards.CreateCard(c.Request().Context(), userIDFrom(c), domain.CardInput{
			ColumnID:    req.ColumnID,
			Title:       req.Title,
			Content:     req.Content,
			CategoryTag: req.CategoryTag,
			Color:       req.Color,
			DueDate:     due,
		})
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, cardResponse{Card: card})
	}
}

func updateCard(cards Cards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateCardRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		status, err := parseStatusPtr(req.Status)
		if err != nil {
			return respondError(c, logger, err)
		}
		due, err := dueDatePatch(req.DueDate)
		if err != nil {
			return respondError(c, logger, err)
		}
		card, err := cards.UpdateCard(c.Request().Context(), userIDFrom(c), c.Param("id"), domain.CardPatch{
			Title:       req.Title,
			Content:     req.Content,
			CategoryTag: req.CategoryTag,
			Color:       req.Color,
			Status:      status,
			DueDate:     due,
		})
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, cardResponse{Card: card})
	}
}

func deleteCard(cards Cards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := cards.DeleteCard(c.Request().Context(), userIDFrom(c), c.Param("id")); err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Card deleted successfully"})
	}
}

func moveCard(cards Cards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveCardRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		status, err := parseStatusPtr(req.Status)
		if err != nil {
			return respondError(c, logger, err)
		}
		card, err := cards.MoveCard(c.Request().Context(), userIDFrom(c), domain.MoveRequest{
			CardID:         req.CardID,
			TargetColumnID: req.TargetColumnID,
			NewOrder:       req.NewOrder,
			Status:         status,
		})
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, cardResponse{Card: card})
	}
}

func listOverdue(cards Cards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := cards.ListOverdue(c.Request().Context(), userIDFrom(c))
		if err != nil {
			return respondError(c, logger, err)
		}
		if list == nil {
			list = []domain.OverdueCard{}
		}
		return c.JSON(http.StatusOK, overdueResponse{Cards: list})
	}
}
