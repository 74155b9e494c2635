package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

func listBoards(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := boards.ListBoards(c.Request().Context(), userIDFrom(c))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, boardsResponse{Boards: list})
	}
}

func createBoard(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req titleRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		board, err := boards.CreateBoard(c.Request().Context(), userIDFrom(c), req.Title)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, boardResponse{Board: board})
	}
}

func getBoard(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		board, err := boards.GetBoard(c.Request().Context(), userIDFrom(c), c.Param("id"))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, boardResponse{Board: board})
	}
}

func updateBoard(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req titleRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		board, err := boards.UpdateBoard(c.Request().Context(), userIDFrom(c), c.Param("id"), req.Title)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, boardResponse{Board: board})
	}
}

func deleteBoard(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := boards.DeleteBoard(c.Request().Context(), userIDFrom(c), c.Param("id")); err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Board deleted successfully"})
	}
}

func addColumn(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req titleRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		col, err := boards.AddColumn(c.Request().Context(), userIDFrom(c), c.Param("id"), req.Title)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusCreated, columnResponse{Column: col})
	}
}

func renameColumn(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req titleRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		col, err := boards.RenameColumn(c.Request().Context(), userIDFrom(c), c.Param("id"), req.Title)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, columnResponse{Column: col})
	}
}

func deleteColumn(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := boards.DeleteColumn(c.Request().Context(), userIDFrom(c), c.Param("id")); err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Column deleted successfully"})
	}
}

func moveColumn(boards Boards, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveColumnRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, logger, err)
		}
		board, err := boards.MoveColumn(c.Request().Context(), userIDFrom(c), req.ColumnID, req.NewOrder)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(http.StatusOK, boardResponse{Board: board})
	}
}
