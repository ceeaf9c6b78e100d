package loyalty

import (
	"context"
	"encoding/json"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Event types written to the outbox.
const (
	EventCommit      = "loyalty.commit"
	EventRefund      = "loyalty.refund"
	EventStaffNotify = "notify.staff.order"
)

const eventSchemaVersion = 1

type commitEvent struct {
	SchemaVersion int        `json:"schemaVersion"`
	HoldID        uuid.UUID  `json:"holdId"`
	OrderID       string     `json:"orderId"`
	ReceiptID     uuid.UUID  `json:"receiptId"`
	CustomerID    uuid.UUID  `json:"customerId"`
	RedeemApplied int64      `json:"redeemApplied"`
	EarnApplied   int64      `json:"earnApplied"`
	OutletID      *uuid.UUID `json:"outletId,omitempty"`
	StaffID       *uuid.UUID `json:"staffId,omitempty"`
	CreatedAt     string     `json:"createdAt"`
}

type staffOrderEvent struct {
	MerchantID    uuid.UUID  `json:"merchantId"`
	OrderID       string     `json:"orderId"`
	ReceiptID     uuid.UUID  `json:"receiptId"`
	CustomerID    uuid.UUID  `json:"customerId"`
	OutletID      *uuid.UUID `json:"outletId,omitempty"`
	StaffID       *uuid.UUID `json:"staffId,omitempty"`
	Total         int64      `json:"total"`
	RedeemApplied int64      `json:"redeemApplied"`
	EarnApplied   int64      `json:"earnApplied"`
}

type refundEvent struct {
	SchemaVersion  int       `json:"schemaVersion"`
	OrderID        string    `json:"orderId"`
	ReceiptID      uuid.UUID `json:"receiptId"`
	CustomerID     uuid.UUID `json:"customerId"`
	PointsRestored int64     `json:"pointsRestored"`
	PointsRevoked  int64     `json:"pointsRevoked"`
	CreatedAt      string    `json:"createdAt"`
}

// enqueueEvent inserts an outbox row. It must run inside the transaction
// that makes the described change.
func enqueueEvent(ctx context.Context, tx *gorm.DB, merchantID uuid.UUID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", eventType)
	}
	row := models.EventOutbox{
		MerchantID: merchantID,
		EventType:  eventType,
		Payload:    string(body),
		Status:     models.OutboxStatusPending,
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrapf(err, "enqueue %s event", eventType)
	}
	return nil
}
