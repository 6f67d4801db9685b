package models

import "time"

type AlertCondition string

const (
	AlertAbove AlertCondition = "above"
	AlertBelow AlertCondition = "below"
)

type Alert struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Symbol      string         `json:"symbol"`
	Condition   AlertCondition `json:"condition"`
	TargetPrice float64        `json:"target_price"`
	IsActive    bool           `json:"is_active"`
	TriggeredAt *time.Time     `json:"triggered_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Triggered reports whether price satisfies the alert condition.
func (a Alert) Triggered(price float64) bool {
	if price <= 0 {
		return false
	}
	switch a.Condition {
	case AlertAbove:
		return price >= a.TargetPrice
	case AlertBelow:
		return price <= a.TargetPrice
	}
	return false
}

// AlertWithProfile carries the owner's contact details for delivery.
type AlertWithProfile struct {
	Alert
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}
