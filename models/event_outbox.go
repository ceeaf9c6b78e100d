package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// EventOutbox rows are written in the same transaction as the state change they
// describe and relayed to the broker afterwards.
type EventOutbox struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID  `gorm:"type:uuid;not null;index" json:"merchant_id"`
	EventType  string     `gorm:"not null" json:"event_type"`
	Payload    string     `gorm:"type:text;not null" json:"payload"`
	Status     string     `gorm:"not null;index" json:"status"`
	Retries    int        `gorm:"not null;default:0" json:"retries"`
	LastError  string     `json:"last_error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (e *EventOutbox) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = OutboxStatusPending
	}
	return nil
}
