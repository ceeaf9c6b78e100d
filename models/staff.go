package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Staff struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID `gorm:"type:uuid;not null;index" json:"merchant_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Login      string    `json:"login"`
	Status     string    `gorm:"not null;default:ACTIVE" json:"status"` // ACTIVE, FIRED
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *Staff) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// DisplayName joins first and last name, falling back to the login.
func (s *Staff) DisplayName() string {
	name := s.FirstName
	if s.LastName != "" {
		if name != "" {
			name += " "
		}
		name += s.LastName
	}
	if name == "" {
		return s.Login
	}
	return name
}

type StaffMotivationAction string

const (
	StaffActionPurchase StaffMotivationAction = "PURCHASE"
	StaffActionRefund   StaffMotivationAction = "REFUND"
)

// StaffMotivationEntry is one award or clawback of staff incentive points.
// PURCHASE entries are unique per (merchant_id, order_id, staff_id).
type StaffMotivationEntry struct {
	ID         uuid.UUID             `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID             `gorm:"type:uuid;not null;index:idx_staff_motivation_order" json:"merchant_id"`
	StaffID    uuid.UUID             `gorm:"type:uuid;not null;index" json:"staff_id"`
	OutletID   *uuid.UUID            `gorm:"type:uuid" json:"outlet_id,omitempty"`
	CustomerID uuid.UUID             `gorm:"type:uuid;not null" json:"customer_id"`
	OrderID    string                `gorm:"not null;index:idx_staff_motivation_order" json:"order_id"`
	ReceiptID  *uuid.UUID            `gorm:"type:uuid" json:"receipt_id,omitempty"`
	Action     StaffMotivationAction `gorm:"not null" json:"action"`
	Points     int                   `gorm:"not null" json:"points"`
	IsNew      bool                  `json:"is_new"`
	Share      *float64              `json:"share,omitempty"`
	EventAt    time.Time             `gorm:"not null;index" json:"event_at"`
	BaseEntry  *uuid.UUID            `gorm:"type:uuid" json:"base_entry_id,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

func (e *StaffMotivationEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
