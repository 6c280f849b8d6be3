package models

import (
	"strings"
	"time"
)

type Webhook struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	URL       string    `gorm:"size:500;not null" json:"url"`
	Secret    string    `gorm:"size:128;not null" json:"-"`
	Events    string    `gorm:"size:500" json:"events"` // comma separated, empty or "*" for all
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedBy int       `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscribed reports whether the webhook wants deliveries for event.
func (w Webhook) Subscribed(event string) bool {
	events := strings.TrimSpace(w.Events)
	if events == "" || events == "*" {
		return true
	}
	for _, e := range strings.Split(events, ",") {
		if strings.TrimSpace(e) == event {
			return true
		}
	}
	return false
}

type WebhookDelivery struct {
	ID         int       `gorm:"primaryKey" json:"id"`
	WebhookID  int       `gorm:"index;not null" json:"webhook_id"`
	DeliveryID string    `gorm:"size:36;not null" json:"delivery_id"`
	Event      string    `gorm:"size:64;not null" json:"event"`
	StatusCode int       `json:"status_code"`
	Success    bool      `json:"success"`
	Error      string    `gorm:"size:500" json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
