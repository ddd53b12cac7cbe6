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

// Nodes group access points by building for apartment-based neighbor analysis.
func registerNodeRoutes() {
	webserver.ApiGET("/network/nodes", listNodes)
	webserver.ApiGET("/network/nodes/:id", getNode)
	webserver.ApiPOST("/network/nodes", createNode)
	webserver.ApiPUT("/network/nodes/:id", updateNode)
	webserver.ApiDELETE("/network/nodes/:id", deleteNode)
}

type nodePayload struct {
	ID      string `json:"id" validate:"omitempty,max=64"`
	Name    string `json:"name" validate:"omitempty,max=200"`
	Address string `json:"address" validate:"omitempty,max=500"`
	Remark  string `json:"remark" validate:"omitempty,max=500"`
	Tags    string `json:"tags" validate:"omitempty,max=200"`
}

func listNodes(c echo.Context) error {
	page, pageSize := parsePagination(c)

	base := GetDB(c).Model(&domain.NetNode{})
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		base = base.Where("LOWER(id) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query nodes", err.Error())
	}
	var nodes []domain.NetNode
	if err := base.Order("id").Offset((page-1)*pageSize).Limit(pageSize).Find(&nodes).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query nodes", err.Error())
	}
	return paged(c, nodes, total, page, pageSize)
}

func getNode(c echo.Context) error {
	id, err := stringIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid node ID", nil)
	}
	var n domain.NetNode
	if err := GetDB(c).Where("id = ?", id).First(&n).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query node", err.Error())
	}
	return ok(c, n)
}

func createNode(c echo.Context) error {
	var payload nodePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse node parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	id := strings.TrimSpace(payload.ID)
	if id == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "Node id is required", nil)
	}
	var exists int64
	GetDB(c).Model(&domain.NetNode{}).Where("id = ?", id).Count(&exists)
	if exists > 0 {
		return fail(c, http.StatusConflict, "NODE_EXISTS", "Node ID already exists", nil)
	}

	n := domain.NetNode{
		ID:        id,
		Name:      strings.TrimSpace(payload.Name),
		Address:   payload.Address,
		Remark:    payload.Remark,
		Tags:      payload.Tags,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := GetDB(c).Create(&n).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create node", err.Error())
	}
	return ok(c, n)
}

func updateNode(c echo.Context) error {
	id, err := stringIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid node ID", nil)
	}
	var payload nodePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse node parameters", nil)
	}
	if err := c.Validate(&payload); err != nil {
		return handleValidationError(c, err)
	}
	var n domain.NetNode
	if err := GetDB(c).Where("id = ?", id).First(&n).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query node", err.Error())
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if name := strings.TrimSpace(payload.Name); name != "" {
		updates["name"] = name
	}
	if payload.Address != "" {
		updates["address"] = payload.Address
	}
	if payload.Remark != "" {
		updates["remark"] = payload.Remark
	}
	if payload.Tags != "" {
		updates["tags"] = payload.Tags
	}
	if err := GetDB(c).Model(&n).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update node", err.Error())
	}
	GetDB(c).Where("id = ?", id).First(&n)
	return ok(c, n)
}

func deleteNode(c echo.Context) error {
	id, err := stringIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid node ID", nil)
	}

	// Apartment neighbor analysis groups devices by node
	var devices int64
	GetDB(c).Model(&domain.NetDevice{}).Where("node_id = ?", id).Count(&devices)
	if devices > 0 {
		return fail(c, http.StatusConflict, "NODE_IN_USE", "Node still has devices and cannot be deleted", map[string]interface{}{"device_count": devices})
	}

	if err := GetDB(c).Where("id = ?", id).Delete(&domain.NetNode{}).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete node", err.Error())
	}
	return ok(c, map[string]interface{}{"id": id})
}
