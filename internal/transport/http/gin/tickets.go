package httpgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/service"
)

// @Summary  Validate ticket for entry
// @Param    number path string true "ticket number"
// @Success  200 {object} tickets.Validation
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Router   /tickets/{number}/validate [get]
func handleValidateTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svcs.Tickets.Validate(c.Request.Context(), c.Param("number"))
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, v)
	}
}

// @Summary  Check in ticket
// @Param    number path string true "ticket number"
// @Success  200 {object} domain.Ticket
// @Failure  403 {object} ErrorResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "already used / not active"
// @Router   /tickets/{number}/check-in [post]
func handleCheckIn(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		operator, _ := currentUser(c)

		t, err := svcs.Tickets.CheckIn(c.Request.Context(), c.Param("number"), operator)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, t)
	}
}

// @Summary  Cancel tickets in bulk
// @Param    req body  CancelTicketsRequest true "payload"
// @Success  200 {object} CancelTicketsResponse
// @Failure  400 {object} ErrorResponse
// @Failure  403 {object} ErrorResponse
// @Router   /tickets/cancel [post]
func handleCancelTickets(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelTicketsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		ids := make([]uuid.UUID, 0, len(req.TicketIDs))
		for _, s := range req.TicketIDs {
			id, err := uuid.Parse(s)
			if err != nil {
				badRequest(c, "invalid ticket id "+s)
				return
			}
			ids = append(ids, id)
		}

		n, err := svcs.Tickets.CancelBatch(c.Request.Context(), ids, req.Reason)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, CancelTicketsResponse{Cancelled: n})
	}
}
