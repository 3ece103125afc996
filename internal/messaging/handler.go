package messaging

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"postbox/internal/httpapi"
	"postbox/internal/logger"
	"postbox/internal/mediator"
	"postbox/pkg/errors"
)

type Handler struct {
	httpapi.BaseHandler
}

func NewHandler(m *mediator.Mediator, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: httpapi.BaseHandler{
			Mediator: m,
			Logger:   log,
		},
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		messages := v1.Group("/messages")
		{
			messages.POST("", h.CreateMessage)
			messages.GET("/:id", h.GetMessage)
		}

		v1.GET("/conversations/:user_id/:peer_id", h.ListConversation)
	}
}

type CreateMessageRequest struct {
	SenderID      int64  `json:"senderId"`
	RecipientID   int64  `json:"recipientId"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlationId,omitempty"`
	IsPrivate     *bool  `json:"isPrivate,omitempty"`
}

// CreateMessage godoc
// @Summary      Send a message
// @Description  Persists the message and stages it for live delivery. The sender is taken from X-User-ID when present.
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        X-User-ID  header    int                   false  "Caller user id"
// @Param        message    body      CreateMessageRequest  true   "Message"
// @Success      201        {object}  CreateMessageResponse
// @Failure      400        {object}  errors.ErrorResponse
// @Failure      403        {object}  errors.ErrorResponse
// @Failure      404        {object}  errors.ErrorResponse
// @Failure      409        {object}  errors.ErrorResponse
// @Failure      500        {object}  errors.ErrorResponse
// @Router       /messages [post]
func (h *Handler) CreateMessage(c *gin.Context) {
	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	callerID, err := httpapi.CallerID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if callerID != 0 {
		if req.SenderID != 0 && req.SenderID != callerID {
			h.HandleError(c, errors.ErrForbidden.WithDetail("message", "senderId does not match caller"))
			return
		}
		req.SenderID = callerID
	}

	resp, err := mediator.Send[CreateMessage, CreateMessageResponse](c.Request.Context(), h.Mediator, CreateMessage{
		SenderID:      req.SenderID,
		RecipientID:   req.RecipientID,
		Content:       req.Content,
		CorrelationID: req.CorrelationID,
		IsPrivate:     req.IsPrivate,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetMessage godoc
// @Summary      Get a message
// @Tags         messages
// @Produce      json
// @Param        X-User-ID  header    int  false  "Caller user id"
// @Param        id         path      int  true   "Message ID"
// @Success      200        {object}  Message
// @Failure      400        {object}  errors.ErrorResponse
// @Failure      404        {object}  errors.ErrorResponse
// @Failure      500        {object}  errors.ErrorResponse
// @Router       /messages/{id} [get]
func (h *Handler) GetMessage(c *gin.Context) {
	id, err := httpapi.ParamID(c, "id")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	viewerID, err := httpapi.CallerID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	msg, err := mediator.Send[GetMessage, Message](c.Request.Context(), h.Mediator, GetMessage{ID: id, ViewerID: viewerID})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// ListConversation godoc
// @Summary      List a conversation
// @Description  Messages exchanged between two users, newest first. Page with before_id. Private messages are only listed for their participants.
// @Tags         messages
// @Produce      json
// @Param        X-User-ID  header    int  false  "Caller user id"
// @Param        user_id    path      int  true   "User ID"
// @Param        peer_id    path      int  true   "Peer ID"
// @Param        before_id  query     int  false  "Only messages with a smaller id"
// @Param        limit      query     int  false  "Page size"
// @Success      200        {object}  Conversation
// @Failure      400        {object}  errors.ErrorResponse
// @Failure      500        {object}  errors.ErrorResponse
// @Router       /conversations/{user_id}/{peer_id} [get]
func (h *Handler) ListConversation(c *gin.Context) {
	userID, err := httpapi.ParamID(c, "user_id")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	peerID, err := httpapi.ParamID(c, "peer_id")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	beforeID, err := httpapi.QueryInt(c, "before_id")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	limit, err := httpapi.QueryInt(c, "limit")
	if err != nil {
		h.HandleError(c, err)
		return
	}
	viewerID, err := httpapi.CallerID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	conv, err := mediator.Send[ListConversation, Conversation](c.Request.Context(), h.Mediator, ListConversation{
		UserID:   userID,
		PeerID:   peerID,
		BeforeID: beforeID,
		Limit:    int(limit),
		ViewerID: viewerID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}

	c.JSON(http.StatusOK, conv)
}
