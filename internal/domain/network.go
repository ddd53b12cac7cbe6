package domain

import "time"

// Network inventory models read by the device gateway

// Device roles in the wireless topology
const (
	RoleStation     = "station"
	RoleAccessPoint = "access_point"
	RoleRouter      = "router"
	RoleCPE         = "cpe"
)

// Device status values recorded by the status sweep
const (
	DeviceUp   = "up"
	DeviceDown = "down"
)

// VendorMikrotik is the IANA enterprise code used by RouterOS devices
const VendorMikrotik = "14988"

// NetNode network node, a building or apartment block grouping access points
type NetNode struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id" form:"id"`
	Name      string    `json:"name" form:"name"`
	Address   string    `json:"address" form:"address"`
	Remark    string    `json:"remark" form:"remark"`
	Tags      string    `json:"tags" form:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (NetNode) TableName() string {
	return "net_node"
}

// NetDevice managed network device: router, access point, station or other CPE
type NetDevice struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id" form:"id"`                      // Device identifier, as reported by monitoring
	Name          string    `json:"name" form:"name"`                                            // Device name
	Role          string    `gorm:"size:32;index" json:"role" form:"role"`                       // station, access_point, router, cpe
	Ipaddr        string    `json:"ipaddr" form:"ipaddr"`                                        // Device IP
	VendorCode    string    `gorm:"size:20" json:"vendor_code" form:"vendor_code"`               // Device vendor code
	Username      string    `json:"username" form:"username"`                                    // Device API username
	Password      string    `json:"-" form:"password"`                                           // Device API password
	ApiPort       int       `json:"api_port" form:"api_port"`                                    // Device API Port
	ApiState      string    `json:"api_state" form:"api_state"`                                  // Device API State (enabled/disabled)
	SnmpPort      int       `json:"snmp_port" form:"snmp_port"`                                  // Device SNMP Port
	SnmpCommunity string    `json:"-" form:"snmp_community"`                                     // Device SNMP Community string
	SnmpState     string    `json:"snmp_state" form:"snmp_state"`                                // Device SNMP State (enabled/disabled)
	RouterId      string    `gorm:"size:64;index" json:"router_id" form:"router_id"`             // Managing Mikrotik router
	AccessPointId string    `gorm:"size:64;index" json:"access_point_id" form:"access_point_id"` // Upstream access point (stations only)
	NodeId        string    `gorm:"size:64;index" json:"node_id" form:"node_id"`                 // Building / apartment group
	SubscriberId  string    `gorm:"size:64;index" json:"subscriber_id" form:"subscriber_id"`     // Billing owner, empty for infrastructure
	Status        string    `json:"status" form:"status"`                                        // Last known status (up/down)
	Remark        string    `json:"remark" form:"remark"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName Specify table name
func (NetDevice) TableName() string {
	return "net_device"
}

func (d *NetDevice) IsStation() bool     { return d.Role == RoleStation }
func (d *NetDevice) IsAccessPoint() bool { return d.Role == RoleAccessPoint }

// ApiEnabled reports whether the RouterOS API can be used for probing.
func (d *NetDevice) ApiEnabled() bool {
	return d.ApiState == "enabled" && d.Username != "" && d.Password != ""
}

// SnmpEnabled reports whether SNMP probing is configured.
func (d *NetDevice) SnmpEnabled() bool {
	return d.SnmpState == "enabled" && d.SnmpCommunity != ""
}
