package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SegmentKindAll        = "all"
	SegmentKindManual     = "manual"
	SegmentKindExpression = "expression"

	SegmentSystemAllCustomers = "all-customers"
)

// CustomerSegment groups customers. Expression segments hold a boolean CEL
// expression over the customer attributes.
type CustomerSegment struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID `gorm:"type:uuid;not null;index" json:"merchant_id"`
	Name       string    `gorm:"not null" json:"name"`
	SystemKey  *string   `json:"system_key,omitempty"`
	IsSystem   bool      `json:"is_system"`
	RuleKind   string    `gorm:"not null" json:"rule_kind"`
	Expression string    `gorm:"type:text" json:"expression,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *CustomerSegment) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

type SegmentCustomer struct {
	SegmentID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"segment_id"`
	CustomerID uuid.UUID `gorm:"type:uuid;primaryKey" json:"customer_id"`
	CreatedAt  time.Time `json:"created_at"`
}
