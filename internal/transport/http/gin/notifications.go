package httpgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/kirinyoku/tix-checkout/internal/service"
)

// @Summary  List my notifications
// @Param    limit  query  int false "page size"
// @Param    offset query  int false "offset"
// @Success  200 {object} NotificationListResponse
// @Router   /notifications [get]
func handleListNotifications(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := currentUser(c)

		list, err := svcs.Notify.ListForUser(
			c.Request.Context(),
			userID,
			parseIntDefault(c.Query("limit"), 20),
			parseIntDefault(c.Query("offset"), 0),
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		if list == nil {
			list = []domain.Notification{}
		}

		c.JSON(http.StatusOK, NotificationListResponse{Notifications: list})
	}
}

// @Summary  Mark notification as read
// @Param    id  path  string  true  "Notification ID (uuid)"
// @Success  200 {object} StatusResponse
// @Failure  404 {object} ErrorResponse
// @Router   /notifications/{id}/read [post]
func handleMarkNotificationRead(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		userID, _ := currentUser(c)

		if err := svcs.Notify.MarkRead(c.Request.Context(), id, userID); err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, StatusResponse{Status: "read"})
	}
}
