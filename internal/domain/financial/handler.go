package financial

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/saudeplus/tiss/internal/platform/auth"
	"github.com/saudeplus/tiss/pkg/pagination"
)

type Handler struct {
	bridge *Bridge
}

func NewHandler(bridge *Bridge) *Handler {
	return &Handler{bridge: bridge}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/financeiro", auth.RequireRole("admin", "billing", "finance"))
	g.GET("/transacoes", h.ListTransactions)
	g.GET("/recebimentos", h.ListReceivables)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	pg := pagination.FromContext(c)
	guiaID, err := optionalGuiaID(c)
	if err != nil {
		return err
	}
	items, total, err := h.bridge.ListTransactions(c.Request().Context(), guiaID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListReceivables(c echo.Context) error {
	pg := pagination.FromContext(c)
	guiaID, err := optionalGuiaID(c)
	if err != nil {
		return err
	}
	items, total, err := h.bridge.ListReceivables(c.Request().Context(), guiaID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func optionalGuiaID(c echo.Context) (*uuid.UUID, error) {
	v := c.QueryParam("guia_id")
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid guia_id")
	}
	return &id, nil
}
