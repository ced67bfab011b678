package eligibility

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/eligibility/internal/platform/middleware"
)

// Client-facing error messages. Details stay in the server log.
const (
	MsgMissingFields = "Missing required fields"
	MsgInvalidDate   = "Invalid date format"
	MsgInvalidBody   = "Invalid request body"
	MsgNoHistory     = "No history found"
	MsgServerError   = middleware.ServerErrorMessage
	MsgBodyTooLarge  = middleware.BodyTooLargeMessage
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the endpoints on g, normally the /eligibility group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/check", h.Check)
	g.GET("/history/:patientId", h.History)
}

// Check handles POST /eligibility/check.
func (h *Handler) Check(c echo.Context) error {
	var req EligibilityRequest
	if err := c.Bind(&req); err != nil {
		// The body limit trips while the decoder reads.
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return h.fail(c, he.Code, MsgBodyTooLarge, err)
		}
		return h.fail(c, http.StatusBadRequest, MsgInvalidBody, err)
	}

	resp, err := h.svc.CheckEligibility(c.Request().Context(), &req)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr) && len(verr.Missing) > 0:
			return h.fail(c, http.StatusBadRequest, MsgMissingFields, err)
		case errors.As(err, &verr):
			return h.fail(c, http.StatusBadRequest, MsgInvalidDate, err)
		case errors.Is(err, ErrValidation):
			return h.fail(c, http.StatusBadRequest, MsgMissingFields, err)
		default:
			return h.fail(c, http.StatusInternalServerError, MsgServerError, err)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// History handles GET /eligibility/history/:patientId.
func (h *Handler) History(c echo.Context) error {
	items, err := h.svc.GetHistory(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return h.fail(c, http.StatusNotFound, MsgNoHistory, err)
		}
		return h.fail(c, http.StatusInternalServerError, MsgServerError, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) fail(c echo.Context, status int, msg string, err error) error {
	rid, _ := c.Get("request_id").(string)
	evt := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = h.logger.Error()
	}
	evt.Err(err).
		Str("request_id", rid).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Int("status", status).
		Msg(msg)
	return c.JSON(status, middleware.ErrorBody{Error: msg})
}
