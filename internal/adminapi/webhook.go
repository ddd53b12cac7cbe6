package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/diagnostic"
	"github.com/talkincode/netdoctor/internal/webserver"
	"go.uber.org/zap"
)

func registerWebhookRoutes() {
	webserver.ApiPOST("/webhooks/device-status", deviceStatusWebhook)
}

// deviceStatusWebhook accepts monitoring events. The key may also come in the
// X-API-Key header for senders that cannot put it in the body.
func deviceStatusWebhook(c echo.Context) error {
	var ev diagnostic.DeviceEvent
	if err := c.Bind(&ev); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse event", nil)
	}
	if ev.APIKey == "" {
		ev.APIKey = c.Request().Header.Get("X-API-Key")
	}

	_, err := GetAppContext(c).Ingestor().HandleDeviceEvent(c.Request().Context(), ev)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, diagnostic.ErrUnauthorized):
		return fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key", nil)
	case errors.Is(err, diagnostic.ErrBadRequest):
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "deviceId and status are required", nil)
	}
	zap.L().Error("webhook enqueue failed", zap.String("namespace", "adminapi"), zap.Error(err))
	return fail(c, http.StatusInternalServerError, "QUEUE_ERROR", "Failed to queue diagnostic", nil)
}
