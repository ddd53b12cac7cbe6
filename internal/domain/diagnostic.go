package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// TargetType what a diagnostic run evaluates
type TargetType string

const (
	TargetUnknown TargetType = ""
	TargetDevice  TargetType = "device"
	TargetUser    TargetType = "user"
)

// ParseTargetType accepts the wire names plus the "subscriber" alias.
func ParseTargetType(s string) (TargetType, error) {
	switch s {
	case "":
		return TargetUnknown, nil
	case "device", "Device":
		return TargetDevice, nil
	case "user", "User", "subscriber", "Subscriber":
		return TargetUser, nil
	}
	return TargetUnknown, fmt.Errorf("unknown target type %q", s)
}

type StepStatus string

const (
	StepSuccess StepStatus = "Success"
	StepFailure StepStatus = "Failure"
	StepWarning StepStatus = "Warning"
	StepSkipped StepStatus = "Skipped"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "Active"
	AccountExpired   AccountStatus = "Expired"
	AccountSuspended AccountStatus = "Suspended"
	AccountUnknown   AccountStatus = "Unknown"
)

// Step names as they appear in the diagnostic log
const (
	StepBillingCheck          = "Billing Check"
	StepRouterCheck           = "Mikrotik Router Check"
	StepCPECheck              = "CPE Check"
	StepAPCheck               = "AP Check"
	StepPingInitialDevice     = "Ping Initial Device"
	StepPingStation           = "Ping Station"
	StepNeighborStationBased  = "Neighbor Analysis (Station-Based)"
	StepNeighborApartment     = "Neighbor Analysis (Apartment-Based)"
	StepUserStatus            = "User Status"
	StepTargetLookup          = "Target Lookup"
	StepDiagnosticTimeout     = "Diagnostic Timeout"
	StepInfrastructureFailure = "Infrastructure Fault"
)

// StepKind selects the schema of DiagnosticStep.Details.
type StepKind string

const (
	KindBilling     StepKind = "billing"
	KindPing        StepKind = "ping"
	KindStationPing StepKind = "station_ping"
	KindNeighbor    StepKind = "neighbor"
	KindUserStatus  StepKind = "user_status"
	KindFault       StepKind = "fault"
)

// StepDetails is implemented by every per-kind detail payload.
type StepDetails interface {
	StepKind() StepKind
}

type BillingDetails struct {
	AccountID     string        `json:"accountId"`
	AccountStatus AccountStatus `json:"accountStatus"`
	ExpireTime    *time.Time    `json:"expireTime,omitempty"`
}

func (BillingDetails) StepKind() StepKind { return KindBilling }

type PingDetails struct {
	DeviceID  string `json:"deviceId"`
	Address   string `json:"address"`
	Reachable bool   `json:"reachable"`
	Method    string `json:"method,omitempty"` // icmp, routeros, snmp, tcp
	LatencyMs int64  `json:"latencyMs"`
	Identity  string `json:"identity,omitempty"`
	Uptime    string `json:"uptime,omitempty"`  // RouterOS uptime
	Message   string `json:"message,omitempty"` // why the probe failed
}

func (PingDetails) StepKind() StepKind { return KindPing }

type StationPingDetails struct {
	AccessPointID string   `json:"accessPointId"`
	Total         int      `json:"total"`
	Reachable     int      `json:"reachable"`
	Unreachable   []string `json:"unreachable"`
}

func (StationPingDetails) StepKind() StepKind { return KindStationPing }

type NeighborMode string

const (
	NeighborStationBased   NeighborMode = "station"
	NeighborApartmentBased NeighborMode = "apartment"
)

// NeighborRecord one row of a neighbor analysis
type NeighborRecord struct {
	DeviceID      string        `json:"deviceId"`
	Name          string        `json:"name"`
	IsOnline      bool          `json:"isOnline"`
	AccountStatus AccountStatus `json:"accountStatus"`
	Reason        string        `json:"reason"`
}

type NeighborDetails struct {
	Mode      NeighborMode     `json:"mode"`
	Neighbors []NeighborRecord `json:"neighbors"`
}

func (NeighborDetails) StepKind() StepKind { return KindNeighbor }

type UserStatusDetails struct {
	UserID        string        `json:"userId"`
	Username      string        `json:"username,omitempty"`
	AccountStatus AccountStatus `json:"accountStatus"`
	ExpireTime    *time.Time    `json:"expireTime,omitempty"`
}

func (UserStatusDetails) StepKind() StepKind { return KindUserStatus }

type FaultDetails struct {
	Error    string `json:"error"`
	Attempts int    `json:"attempts,omitempty"`
}

func (FaultDetails) StepKind() StepKind { return KindFault }

// DiagnosticStep one completed unit of pipeline work. Steps are values: once
// appended to a run they are never modified.
type DiagnosticStep struct {
	Name       string      `json:"stepName"`
	Kind       StepKind    `json:"kind"`
	Status     StepStatus  `json:"status"`
	Summary    string      `json:"summary"`
	Details    StepDetails `json:"details"`
	DurationMs int64       `json:"durationMs"`
}

type diagnosticStepJSON struct {
	Name       string          `json:"stepName"`
	Kind       StepKind        `json:"kind"`
	Status     StepStatus      `json:"status"`
	Summary    string          `json:"summary"`
	Details    json.RawMessage `json:"details"`
	DurationMs int64           `json:"durationMs"`
}

func (s DiagnosticStep) MarshalJSON() ([]byte, error) {
	raw := json.RawMessage("null")
	if s.Details != nil {
		b, err := json.Marshal(s.Details)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(diagnosticStepJSON{
		Name:       s.Name,
		Kind:       s.Kind,
		Status:     s.Status,
		Summary:    s.Summary,
		Details:    raw,
		DurationMs: s.DurationMs,
	})
}

func (s *DiagnosticStep) UnmarshalJSON(data []byte) error {
	var aux diagnosticStepJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = DiagnosticStep{
		Name:       aux.Name,
		Kind:       aux.Kind,
		Status:     aux.Status,
		Summary:    aux.Summary,
		DurationMs: aux.DurationMs,
	}
	if len(aux.Details) == 0 || string(aux.Details) == "null" {
		return nil
	}
	details, err := decodeDetails(aux.Kind, aux.Details)
	if err != nil {
		return fmt.Errorf("step %q: %w", aux.Name, err)
	}
	s.Details = details
	return nil
}

func decodeDetails(kind StepKind, raw json.RawMessage) (StepDetails, error) {
	switch kind {
	case KindBilling:
		var d BillingDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindPing:
		var d PingDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindStationPing:
		var d StationPingDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindNeighbor:
		var d NeighborDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindUserStatus:
		var d UserStatusDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindFault:
		var d FaultDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	}
	return nil, fmt.Errorf("unknown step kind %q", kind)
}

// DiagnosticLog immutable outcome of one diagnostic run
type DiagnosticLog struct {
	ID              int64                                `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	TargetId        string                               `gorm:"size:64;index:idx_diag_target_created,priority:1" json:"targetId"`
	TargetType      TargetType                           `gorm:"size:16" json:"targetType"`
	Steps           datatypes.JSONType[[]DiagnosticStep] `json:"steps"`
	FinalConclusion string                               `gorm:"type:text" json:"finalConclusion"`
	CreatedAt       time.Time                            `gorm:"index:idx_diag_target_created,priority:2" json:"createdAt"`
}

// TableName Specify table name
func (DiagnosticLog) TableName() string {
	return "diagnostic_log"
}

// StepList returns the ordered steps of the run.
func (l *DiagnosticLog) StepList() []DiagnosticStep {
	return l.Steps.Data()
}

// DiagnosticJob a request to diagnose one target
type DiagnosticJob struct {
	TargetId    string     `json:"targetId"`
	TargetType  TargetType `json:"targetType"`
	RequestedAt time.Time  `json:"requestedAt"`
	DedupeKey   string     `json:"dedupeKey"`
	Attempt     int        `json:"attempt"`
	UserChecks  []string   `json:"userChecks,omitempty"`
}

// DedupeKeyFor derives the per-target key shared by jobs and leases.
func DedupeKeyFor(targetID string) string {
	return "diag:" + targetID
}

func NewDiagnosticJob(targetID string, targetType TargetType, userChecks []string, now time.Time) *DiagnosticJob {
	return &DiagnosticJob{
		TargetId:    targetID,
		TargetType:  targetType,
		RequestedAt: now,
		DedupeKey:   DedupeKeyFor(targetID),
		UserChecks:  userChecks,
	}
}
