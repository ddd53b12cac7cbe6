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

type devicePayload struct {
	ID            string `json:"id" validate:"required,min=1,max=64"`
	Name          string `json:"name" validate:"omitempty,max=200"`
	Role          string `json:"role" validate:"required,oneof=station access_point router cpe"`
	Ipaddr        string `json:"ipaddr" validate:"omitempty,ip"`
	VendorCode    string `json:"vendor_code" validate:"omitempty,max=20"`
	Username      string `json:"username" validate:"omitempty,max=100"`
	Password      string `json:"password" validate:"omitempty,max=100"`
	ApiPort       int    `json:"api_port" validate:"omitempty,min=1,max=65535"`
	ApiState      string `json:"api_state" validate:"omitempty,oneof=enabled disabled"`
	SnmpPort      int    `json:"snmp_port" validate:"omitempty,min=1,max=65535"`
	SnmpCommunity string `json:"snmp_community" validate:"omitempty,max=100"`
	SnmpState     string `json:"snmp_state" validate:"omitempty,oneof=enabled disabled"`
	RouterId      string `json:"router_id" validate:"omitempty,max=64"`
	AccessPointId string `json:"access_point_id" validate:"omitempty,max=64"`
	NodeId        string `json:"node_id" validate:"omitempty,max=64"`
	SubscriberId  string `json:"subscriber_id" validate:"omitempty,max=64"`
	Remark        string `json:"remark" validate:"omitempty,max=500"`
}

type deviceUpdatePayload struct {
	Name          *string `json:"name" validate:"omitempty,max=200"`
	Role          *string `json:"role" validate:"omitempty,oneof=station access_point router cpe"`
	Ipaddr        *string `json:"ipaddr" validate:"omitempty,ip"`
	VendorCode    *string `json:"vendor_code" validate:"omitempty,max=20"`
	Username      *string `json:"username" validate:"omitempty,max=100"`
	Password      *string `json:"password" validate:"omitempty,max=100"`
	ApiPort       *int    `json:"api_port" validate:"omitempty,min=1,max=65535"`
	ApiState      *string `json:"api_state" validate:"omitempty,oneof=enabled disabled"`
	SnmpPort      *int    `json:"snmp_port" validate:"omitempty,min=1,max=65535"`
	SnmpCommunity *string `json:"snmp_community" validate:"omitempty,max=100"`
	SnmpState     *string `json:"snmp_state" validate:"omitempty,oneof=enabled disabled"`
	RouterId      *string `json:"router_id" validate:"omitempty,max=64"`
	AccessPointId *string `json:"access_point_id" validate:"omitempty,max=64"`
	NodeId        *string `json:"node_id" validate:"omitempty,max=64"`
	SubscriberId  *string `json:"subscriber_id" validate:"omitempty,max=64"`
	Remark        *string `json:"remark" validate:"omitempty,max=500"`
}

// registerDeviceRoutes registers network device CRUD routes
func registerDeviceRoutes() {
	webserver.ApiGET("/network/devices", listDevices)
	webserver.ApiGET("/network/devices/:id", getDevice)
	webserver.ApiPOST("/network/devices", createDevice)
	webserver.ApiPUT("/network/devices/:id", updateDevice)
	webserver.ApiDELETE("/network/devices/:id", deleteDevice)
}

func listDevices(c echo.Context) error {
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.NetDevice{})
	for param, column := range map[string]string{
		"role":            "role",
		"router_id":       "router_id",
		"access_point_id": "access_point_id",
		"node_id":         "node_id",
		"status":          "status",
	} {
		if v := strings.TrimSpace(c.QueryParam(param)); v != "" {
			db = db.Where(column+" = ?", v)
		}
	}
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		if db.Dialector.Name() == "postgres" {
			db = db.Where("id ILIKE ? OR name ILIKE ? OR ipaddr ILIKE ?", "%"+q+"%", "%"+q+"%", "%"+q+"%")
		} else {
			like := "%" + strings.ToLower(q) + "%"
			db = db.Where("LOWER(id) LIKE ? OR LOWER(name) LIKE ? OR ipaddr LIKE ?", like, like, like)
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query devices", err.Error())
	}

	var devices []domain.NetDevice
	if err := db.Order("id").Offset((page-1)*pageSize).Limit(pageSize).Find(&devices).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query devices", err.Error())
	}

	return paged(c, devices, total, page, pageSize)
}

func getDevice(c echo.Context) error {
	id, err := stringIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid device ID", nil)
	}

	var d domain.NetDevice
	if err := GetDB(c).Where("id = ?", id).First(&d).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query device", err.Error())
	}

	return ok(c, d)
}

func createDevice(c echo.Context) error {
	var payload devicePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse device parameters", nil)
	}
	payload.ID = strings.TrimSpace(payload.ID)
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	var exists int64
	GetDB(c).Model(&domain.NetDevice{}).Where("id = ?", payload.ID).Count(&exists)
	if exists > 0 {
		return fail(c, http.StatusConflict, "DEVICE_EXISTS", "Device ID already exists", nil)
	}

	device := domain.NetDevice{
		ID:            payload.ID,
		Name:          strings.TrimSpace(payload.Name),
		Role:          payload.Role,
		Ipaddr:        payload.Ipaddr,
		VendorCode:    payload.VendorCode,
		Username:      payload.Username,
		Password:      payload.Password,
		ApiPort:       payload.ApiPort,
		ApiState:      payload.ApiState,
		SnmpPort:      payload.SnmpPort,
		SnmpCommunity: payload.SnmpCommunity,
		SnmpState:     payload.SnmpState,
		RouterId:      payload.RouterId,
		AccessPointId: payload.AccessPointId,
		NodeId:        payload.NodeId,
		SubscriberId:  payload.SubscriberId,
		Remark:        payload.Remark,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := GetDB(c).Create(&device).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create device", err.Error())
	}

	return ok(c, device)
}

func updateDevice(c echo.Context) error {
	id, err := stringIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid device ID", nil)
	}

	var payload deviceUpdatePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse device parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}

	var d domain.NetDevice
	if err := GetDB(c).Where("id = ?", id).First(&d).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query device", err.Error())
	}

	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setString(&d.Name, payload.Name)
	setString(&d.Role, payload.Role)
	setString(&d.Ipaddr, payload.Ipaddr)
	setString(&d.VendorCode, payload.VendorCode)
	setString(&d.Username, payload.Username)
	setString(&d.Password, payload.Password)
	setString(&d.ApiState, payload.ApiState)
	setString(&d.SnmpCommunity, payload.SnmpCommunity)
	setString(&d.SnmpState, payload.SnmpState)
	setString(&d.RouterId, payload.RouterId)
	setString(&d.AccessPointId, payload.AccessPointId)
	setString(&d.NodeId, payload.NodeId)
	setString(&d.SubscriberId, payload.SubscriberId)
	setString(&d.Remark, payload.Remark)
	if payload.ApiPort != nil {
		d.ApiPort = *payload.ApiPort
	}
	if payload.SnmpPort != nil {
		d.SnmpPort = *payload.SnmpPort
	}
	d.UpdatedAt = time.Now()

	if err := GetDB(c).Save(&d).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update device", err.Error())
	}

	return ok(c, d)
}

func deleteDevice(c echo.Context) error {
	id, err := stringIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid device ID", nil)
	}

	var d domain.NetDevice
	if err := GetDB(c).Where("id = ?", id).First(&d).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query device", err.Error())
	}

	// Prevent deletion while other devices hang off this one
	var dependents int64
	GetDB(c).Model(&domain.NetDevice{}).Where("router_id = ? OR access_point_id = ?", id, id).Count(&dependents)
	if dependents > 0 {
		return fail(c, http.StatusConflict, "DEVICE_IN_USE", "Device is referenced by other devices and cannot be deleted", map[string]interface{}{"device_count": dependents})
	}

	if err := GetDB(c).Where("id = ?", id).Delete(&domain.NetDevice{}).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete device", err.Error())
	}

	return ok(c, map[string]interface{}{"id": id})
}
