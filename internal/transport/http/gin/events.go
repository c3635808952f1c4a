package httpgin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tix-checkout/internal/service"
	"github.com/kirinyoku/tix-checkout/internal/service/admin"
)

// @Summary  Get availability counters
// @Param    id  path  string  true  "Event ID (uuid)"
// @Success  200  {object}  domain.Availability
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		av, err := svcs.Inventory.Available(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writePublicJSON(c, av, 15*time.Second)
	}
}

// @Summary  Create event (draft)
// @Param    req body  CreateEventRequest true "payload"
// @Success  201 {object} domain.Event
// @Failure  400 {object} ErrorResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		e, err := svcs.Admin.CreateEvent(c.Request.Context(), admin.CreateEventInput{
			Title:    req.Title,
			Location: req.Location,
			StartsAt: req.StartsAt,
			EndsAt:   req.EndsAt,
			Price:    req.Price,
			Quota:    req.Quota,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, e)
	}
}

// @Summary  Publish event
// @Param    id  path  string  true  "Event ID (uuid)"
// @Success  200 {object} domain.Event
// @Failure  409 {object} ErrorResponse "not a draft"
// @Router   /admin/events/{id}/publish [post]
func handlePublishEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		e, err := svcs.Admin.PublishEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, e)
	}
}
