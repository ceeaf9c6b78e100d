package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TxnEarn     TransactionType = "EARN"
	TxnRedeem   TransactionType = "REDEEM"
	TxnRefund   TransactionType = "REFUND"
	TxnReferral TransactionType = "REFERRAL"
	TxnAdjust   TransactionType = "ADJUST"
)

// Transaction is an immutable signed point movement. EARN is positive, REDEEM negative.
type Transaction struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID       `gorm:"type:uuid;not null;index:idx_txn_merchant_customer" json:"merchant_id"`
	CustomerID uuid.UUID       `gorm:"type:uuid;not null;index:idx_txn_merchant_customer" json:"customer_id"`
	Type       TransactionType `gorm:"not null;index" json:"type"`
	Amount     int64           `gorm:"not null" json:"amount"`
	OrderID    *string         `gorm:"index" json:"order_id,omitempty"`
	ReceiptID  *uuid.UUID      `gorm:"type:uuid" json:"receipt_id,omitempty"`
	OutletID   *uuid.UUID      `gorm:"type:uuid" json:"outlet_id,omitempty"`
	StaffID    *uuid.UUID      `gorm:"type:uuid" json:"staff_id,omitempty"`
	DeviceID   *uuid.UUID      `gorm:"type:uuid" json:"device_id,omitempty"`
	CreatedAt  time.Time       `gorm:"index" json:"created_at"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

const (
	AccountCustomerBalance   = "CUSTOMER_BALANCE"
	AccountMerchantLiability = "MERCHANT_LIABILITY"
)

// LedgerEntry mirrors a Transaction as a double-entry posting. Amount is always positive.
type LedgerEntry struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"merchant_id"`
	CustomerID    uuid.UUID  `gorm:"type:uuid;not null" json:"customer_id"`
	DebitAccount  string     `gorm:"not null" json:"debit_account"`
	CreditAccount string     `gorm:"not null" json:"credit_account"`
	Amount        int64      `gorm:"not null" json:"amount"`
	OrderID       *string    `json:"order_id,omitempty"`
	ReceiptID     *uuid.UUID `gorm:"type:uuid" json:"receipt_id,omitempty"`
	Kind          string     `json:"kind"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (l *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
