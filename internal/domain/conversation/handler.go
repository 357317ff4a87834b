package conversation

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/intake/intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/chat/history/:conversation_id", h.GetConversationHistory)
	api.GET("/patient/messages/:patient_id", h.ListPatientMessages)
}

func (h *Handler) GetConversationHistory(c echo.Context) error {
	pg := pagination.FromContext(c)
	msgs, total, err := h.svc.History(c.Request().Context(), c.Param("conversation_id"), pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListPatientMessages(c echo.Context) error {
	pg := pagination.FromContext(c)
	msgs, total, err := h.svc.PatientMessages(c.Request().Context(), c.Param("patient_id"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, pg.Limit, pg.Offset))
}
