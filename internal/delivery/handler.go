package delivery

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"postbox/internal/httpapi"
	"postbox/internal/logger"
	"postbox/internal/mediator"
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
	deliveries := router.Group("/api/v1/deliveries")
	{
		deliveries.GET("/:correlation_id", h.GetStatus)
		deliveries.POST("/:correlation_id/ack", h.Acknowledge)
	}
}

// GetStatus godoc
// @Summary      Delivery status
// @Description  Ledger state of one envelope. With X-User-ID only the sender or recipient may read it.
// @Tags         deliveries
// @Produce      json
// @Param        X-User-ID       header    int     false  "Caller user id"
// @Param        correlation_id  path      string  true   "Correlation ID"
// @Success      200             {object}  DeliveryStatus
// @Failure      404             {object}  errors.ErrorResponse
// @Failure      500             {object}  errors.ErrorResponse
// @Router       /deliveries/{correlation_id} [get]
func (h *Handler) GetStatus(c *gin.Context) {
	viewerID, err := httpapi.CallerID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	q := GetDeliveryStatus{CorrelationID: c.Param("correlation_id")}
	if viewerID != 0 {
		q.ViewerID = strconv.FormatInt(viewerID, 10)
	}

	status, err := mediator.Send[GetDeliveryStatus, DeliveryStatus](c.Request.Context(), h.Mediator, q)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// Acknowledge godoc
// @Summary      Acknowledge a delivery
// @Description  Confirms receipt on behalf of the recipient named by X-User-ID. Repeated acknowledgments succeed.
// @Tags         deliveries
// @Produce      json
// @Param        X-User-ID       header    int     true  "Recipient user id"
// @Param        correlation_id  path      string  true  "Correlation ID"
// @Success      200             {object}  AckResult
// @Failure      401             {object}  errors.ErrorResponse
// @Failure      404             {object}  errors.ErrorResponse
// @Failure      409             {object}  errors.ErrorResponse
// @Failure      500             {object}  errors.ErrorResponse
// @Router       /deliveries/{correlation_id}/ack [post]
func (h *Handler) Acknowledge(c *gin.Context) {
	callerID, err := httpapi.RequireCaller(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := mediator.Send[AcknowledgeDelivery, AckResult](c.Request.Context(), h.Mediator, AcknowledgeDelivery{
		CorrelationID: c.Param("correlation_id"),
		Recipient:     strconv.FormatInt(callerID, 10),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
