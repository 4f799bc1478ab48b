package retorno

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/saudeplus/tiss/internal/platform/auth"
	"github.com/saudeplus/tiss/internal/platform/errs"
	"github.com/saudeplus/tiss/pkg/pagination"
)

// Return payloads are small documents; anything larger is rejected
// before parsing.
const maxPayloadBytes = 4 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/retornos", auth.RequireRole("admin", "billing"))
	g.POST("", h.Ingest)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

// Ingest receives the raw return XML for one lote. The lote is named by
// the lote_id query parameter; the body is the document as delivered by
// the payer channel.
func (h *Handler) Ingest(c echo.Context) error {
	loteID, err := uuid.Parse(c.QueryParam("lote_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid lote_id")
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(payload) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty return document")
	}
	if len(payload) > maxPayloadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "return document too large")
	}

	rt, err := h.svc.Process(c.Request().Context(), loteID, payload)
	if err != nil {
		if rt != nil && rt.Status == StatusError {
			// Unparseable document: the ERROR audit record was written.
			return c.JSON(errs.HTTPStatus(err), rt)
		}
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, rt)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rt, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, rt)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var loteID *uuid.UUID
	if v := c.QueryParam("lote_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lote_id")
		}
		loteID = &id
	}
	items, total, err := h.svc.List(c.Request().Context(), loteID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
