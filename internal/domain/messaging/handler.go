package messaging

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medconnect/medconnect/internal/platform/apperr"
	"github.com/medconnect/medconnect/internal/platform/auth"
)

// Handler is the polling counterpart of the socket gateway. Sends made here
// are stored but not pushed to any room.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/messages")
	g.GET("/conversations", h.ListConversations)
	g.GET("/conversation/:userId", h.GetOrCreateConversation)
	g.GET("/:conversationId", h.ListMessages)
	g.POST("", h.SendMessage)
	g.PUT("/:id/read", h.MarkRead)
}

func callerID(c echo.Context) (uuid.UUID, error) {
	uid, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return uid, nil
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) ListConversations(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	convs, err := h.svc.ListConversations(c.Request().Context(), uid)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, convs)
}

func (h *Handler) GetOrCreateConversation(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	peer, err := pathID(c, "userId")
	if err != nil {
		return err
	}
	conv, err := h.svc.GetOrCreateConversation(c.Request().Context(), uid, peer)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) ListMessages(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	convID, err := pathID(c, "conversationId")
	if err != nil {
		return err
	}
	msgs, err := h.svc.ListMessages(c.Request().Context(), convID, uid)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *Handler) SendMessage(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	var in SendInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.SendMessage(c.Request().Context(), uid, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) MarkRead(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.MarkRead(c.Request().Context(), id, uid)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}
