package adminapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/talkincode/netdoctor/internal/domain"
	"github.com/talkincode/netdoctor/internal/webserver"
)

func registerSubscriberRoutes() {
	webserver.ApiGET("/network/subscribers", listSubscribers)
	webserver.ApiGET("/network/subscribers/:id", getSubscriber)
	webserver.ApiPOST("/network/subscribers", createSubscriber)
	webserver.ApiPUT("/network/subscribers/:id", updateSubscriber)
	webserver.ApiDELETE("/network/subscribers/:id", deleteSubscriber)
}

func listSubscribers(c echo.Context) error {
	page, pageSize := parsePagination(c)

	base := GetDB(c).Model(&domain.NetSubscriber{})
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		base = base.Where("status = ?", status)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query subscribers", err.Error())
	}

	var subs []domain.NetSubscriber
	if err := base.Order("id").Offset((page-1)*pageSize).Limit(pageSize).Find(&subs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query subscribers", err.Error())
	}
	return paged(c, subs, total, page, pageSize)
}

func getSubscriber(c echo.Context) error {
	id, err := stringIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid subscriber ID", nil)
	}
	var s domain.NetSubscriber
	if err := GetDB(c).Where("id = ?", id).First(&s).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "SUBSCRIBER_NOT_FOUND", "Subscriber not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query subscriber", err.Error())
	}
	return ok(c, s)
}

type subscriberPayload struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Realname   string    `json:"realname"`
	Mobile     string    `json:"mobile"`
	Status     string    `json:"status" validate:"omitempty,oneof=enabled disabled"`
	ExpireTime time.Time `json:"expire_time"`
	Remark     string    `json:"remark"`
}

func createSubscriber(c echo.Context) error {
	var payload subscriberPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse subscriber parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	id := strings.TrimSpace(payload.ID)
	username := strings.TrimSpace(payload.Username)
	if id == "" || username == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "Subscriber id and username are required", nil)
	}
	// ensure id/username uniqueness
	var dup domain.NetSubscriber
	if err := GetDB(c).Where("id = ? OR username = ?", id, username).First(&dup).Error; err == nil {
		return fail(c, http.StatusConflict, "DUPLICATE_SUBSCRIBER", "Subscriber with this id or username already exists", nil)
	}

	status := payload.Status
	if status == "" {
		status = "enabled"
	}
	s := domain.NetSubscriber{
		ID:         id,
		Username:   username,
		Realname:   payload.Realname,
		Mobile:     payload.Mobile,
		Status:     status,
		ExpireTime: payload.ExpireTime,
		Remark:     payload.Remark,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := GetDB(c).Create(&s).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create subscriber", err.Error())
	}
	return ok(c, s)
}

func updateSubscriber(c echo.Context) error {
	id, err := stringIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid subscriber ID", nil)
	}
	var payload subscriberPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse subscriber parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	var s domain.NetSubscriber
	if err := GetDB(c).Where("id = ?", id).First(&s).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "SUBSCRIBER_NOT_FOUND", "Subscriber not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query subscriber", err.Error())
	}
	updates := map[string]interface{}{}
	if username := strings.TrimSpace(payload.Username); username != "" {
		var dup domain.NetSubscriber
		if err := GetDB(c).Where("username = ? AND id != ?", username, id).First(&dup).Error; err == nil {
			return fail(c, http.StatusConflict, "DUPLICATE_SUBSCRIBER", "Another subscriber with this username already exists", nil)
		}
		updates["username"] = username
	}
	if payload.Realname != "" {
		updates["realname"] = payload.Realname
	}
	if payload.Mobile != "" {
		updates["mobile"] = payload.Mobile
	}
	if payload.Status != "" {
		updates["status"] = payload.Status
	}
	if !payload.ExpireTime.IsZero() {
		updates["expire_time"] = payload.ExpireTime
	}
	if payload.Remark != "" {
		updates["remark"] = payload.Remark
	}
	updates["updated_at"] = time.Now()
	if err := GetDB(c).Model(&s).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update subscriber", err.Error())
	}
	GetDB(c).Where("id = ?", id).First(&s)
	return ok(c, s)
}

func deleteSubscriber(c echo.Context) error {
	id, err := stringIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid subscriber ID", nil)
	}
	if err := GetDB(c).Where("id = ?", id).Delete(&domain.NetSubscriber{}).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete subscriber", err.Error())
	}
	return ok(c, map[string]interface{}{"id": id})
}
