package domain

import "time"

// NetSubscriber billing account owning one or more devices
type NetSubscriber struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Username   string    `gorm:"index" json:"username"`
	Realname   string    `json:"realname"`
	Mobile     string    `json:"mobile"`
	Status     string    `json:"status"` // enabled, disabled
	ExpireTime time.Time `json:"expire_time"`
	Remark     string    `json:"remark"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName Specify table name
func (NetSubscriber) TableName() string {
	return "net_subscriber"
}

// AccountStatusAt derives the billing state of the subscriber at the given time.
func (s *NetSubscriber) AccountStatusAt(now time.Time) AccountStatus {
	switch {
	case s.Status == "disabled":
		return AccountSuspended
	case !s.ExpireTime.IsZero() && !s.ExpireTime.After(now):
		return AccountExpired
	case s.Status == "enabled":
		return AccountActive
	default:
		return AccountUnknown
	}
}
