package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/diagnostic"
	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/webserver"
)

type triggerPayload struct {
	TargetIDs  []string `json:"targetIds" validate:"required,min=1,max=100"`
	TargetType string   `json:"targetType" validate:"omitempty,max=32"`
	UserChecks []string `json:"userChecks" validate:"omitempty,max=10"`
	Sync       bool     `json:"sync"`
}

// syncResponse lists targets skipped because a diagnosis was already running
// next to the logs of those that ran.
type syncResponse struct {
	Data       []*domain.DiagnosticLog `json:"data"`
	InProgress []string                `json:"inProgress,omitempty"`
}

func registerDiagnosticRoutes() {
	webserver.ApiPOST("/diagnostics", triggerDiagnostics)
	webserver.ApiGET("/diagnostics/logs", listDiagnosticLogs)
	webserver.ApiGET("/diagnostics/logs/:id", getDiagnosticLog)
}

// triggerDiagnostics queues jobs (202) or, with sync, runs them and returns
// the logs (200).
func triggerDiagnostics(c echo.Context) error {
	var payload triggerPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse diagnostic request", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	targetType, err := domain.ParseTargetType(strings.TrimSpace(payload.TargetType))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_TARGET_TYPE", err.Error(), nil)
	}

	res, err := GetAppContext(c).Diagnostics().Trigger(c.Request().Context(), diagnostic.TriggerRequest{
		TargetIDs:  payload.TargetIDs,
		TargetType: targetType,
		UserChecks: payload.UserChecks,
		Sync:       payload.Sync,
	})
	switch {
	case errors.Is(err, diagnostic.ErrBadRequest):
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, diagnostic.ErrInProgress):
		return fail(c, http.StatusConflict, "DIAGNOSIS_IN_PROGRESS", err.Error(), nil)
	case err != nil:
		return fail(c, http.StatusInternalServerError, "DIAGNOSTIC_ERROR", "Failed to run diagnostic", err.Error())
	}

	if payload.Sync {
		return c.JSON(http.StatusOK, syncResponse{Data: res.Logs, InProgress: res.InProgress})
	}
	return c.JSON(http.StatusAccepted, Response{Data: res.Jobs})
}

func getDiagnosticLog(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid log ID", nil)
	}
	log, err := GetAppContext(c).Diagnostics().GetLog(c.Request().Context(), id)
	if errors.Is(err, diagnostic.ErrLogNotFound) {
		return fail(c, http.StatusNotFound, "LOG_NOT_FOUND", "Diagnostic log not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query diagnostic log", err.Error())
	}
	return ok(c, log)
}

func listDiagnosticLogs(c echo.Context) error {
	page, pageSize := parsePagination(c)
	logs, total, err := GetAppContext(c).Diagnostics().ListLogs(c.Request().Context(), c.QueryParam("target_id"), page, pageSize)
	if errors.Is(err, diagnostic.ErrBadRequest) {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "target_id is required", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query diagnostic logs", err.Error())
	}
	return paged(c, logs, total, page, pageSize)
}
