package loyalty

import (
	"context"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dailyWindow = 24 * time.Hour

// ensureWallet returns the customer's points wallet, creating it if needed.
func ensureWallet(ctx context.Context, db *gorm.DB, merchantID, customerID uuid.UUID) (*models.Wallet, error) {
	wallet := models.Wallet{MerchantID: merchantID, CustomerID: customerID, Type: models.WalletTypePoints}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&wallet).Error; err != nil {
		return nil, errors.Wrap(err, "create wallet")
	}
	var out models.Wallet
	if err := db.WithContext(ctx).
		Where("merchant_id = ? AND customer_id = ? AND type = ?", merchantID, customerID, models.WalletTypePoints).
		Take(&out).Error; err != nil {
		return nil, errors.Wrap(err, "load wallet")
	}
	return &out, nil
}

func walletBalance(ctx context.Context, db *gorm.DB, merchantID, customerID uuid.UUID) (int64, error) {
	var wallet models.Wallet
	err := db.WithContext(ctx).
		Where("merchant_id = ? AND customer_id = ? AND type = ?", merchantID, customerID, models.WalletTypePoints).
		Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "load wallet")
	}
	return wallet.Balance, nil
}

// pointsUsed sums the absolute REDEEM or EARN movements in (until-24h, until].
func pointsUsed(ctx context.Context, db *gorm.DB, merchantID, customerID uuid.UUID, typ models.TransactionType, until time.Time) (int64, error) {
	expr := "COALESCE(SUM(amount), 0) AS total"
	cond := "amount > 0"
	if typ == models.TxnRedeem {
		expr = "COALESCE(SUM(-amount), 0) AS total"
		cond = "amount < 0"
	}
	var out struct{ Total int64 }
	err := db.WithContext(ctx).Model(&models.Transaction{}).
		Select(expr).
		Where("merchant_id = ? AND customer_id = ? AND type = ? AND "+cond, merchantID, customerID, typ).
		Where("created_at >= ? AND created_at <= ?", until.Add(-dailyWindow), until).
		Scan(&out).Error
	if err != nil {
		return 0, errors.Wrapf(err, "sum %s usage", typ)
	}
	return out.Total, nil
}

// dailyLeft returns the unused part of a daily cap. ok is false when there
// is no cap.
func dailyLeft(ctx context.Context, db *gorm.DB, merchantID, customerID uuid.UUID, typ models.TransactionType, limit *int64, until time.Time) (left int64, ok bool, err error) {
	capAmount := capValue(limit)
	if capAmount <= 0 {
		return 0, false, nil
	}
	used, err := pointsUsed(ctx, db, merchantID, customerID, typ, until)
	if err != nil {
		return 0, true, err
	}
	return nonNegative(capAmount - used), true, nil
}

// cooldownWait returns the seconds left before another movement of typ is
// allowed, or 0.
func cooldownWait(ctx context.Context, db *gorm.DB, merchantID, customerID uuid.UUID, typ models.TransactionType, cooldownSec int, now time.Time) (int, error) {
	if cooldownSec <= 0 {
		return 0, nil
	}
	q := db.WithContext(ctx).Where("merchant_id = ? AND customer_id = ? AND type = ?", merchantID, customerID, typ)
	if typ == models.TxnEarn {
		q = q.Where("order_id IS NOT NULL")
	}
	var last models.Transaction
	err := q.Order("created_at DESC").Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "load last transaction")
	}
	elapsed := int(now.Sub(last.CreatedAt) / time.Second)
	if elapsed < cooldownSec {
		return cooldownSec - elapsed, nil
	}
	return 0, nil
}

// postMovement writes a transaction together with its double-entry mirror.
// Positive amounts credit the customer balance.
func postMovement(ctx context.Context, tx *gorm.DB, txn *models.Transaction) error {
	if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
		return errors.Wrapf(err, "create %s transaction", txn.Type)
	}
	entry := models.LedgerEntry{
		MerchantID:    txn.MerchantID,
		CustomerID:    txn.CustomerID,
		DebitAccount:  models.AccountMerchantLiability,
		CreditAccount: models.AccountCustomerBalance,
		Amount:        txn.Amount,
		OrderID:       txn.OrderID,
		ReceiptID:     txn.ReceiptID,
		Kind:          string(txn.Type),
	}
	if txn.Amount < 0 {
		entry.DebitAccount, entry.CreditAccount = models.AccountCustomerBalance, models.AccountMerchantLiability
		entry.Amount = -txn.Amount
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		return errors.Wrap(err, "create ledger entry")
	}
	return nil
}

// adjustBalance applies delta to the wallet. Negative deltas only succeed
// when the balance covers them.
func adjustBalance(ctx context.Context, tx *gorm.DB, walletID uuid.UUID, delta int64) error {
	if delta == 0 {
		return nil
	}
	q := tx.WithContext(ctx).Model(&models.Wallet{}).Where("id = ?", walletID)
	if delta < 0 {
		q = q.Where("balance >= ?", -delta)
	}
	res := q.UpdateColumns(map[string]interface{}{
		"balance":    gorm.Expr("balance + ?", delta),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update wallet balance")
	}
	if res.RowsAffected == 0 {
		return policyError(msgInsufficientPoints)
	}
	return nil
}

type BalanceResult struct {
	MerchantID uuid.UUID `json:"merchant_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Balance    int64     `json:"balance"`
}

// Balance returns the customer's points balance.
func (s *Service) Balance(ctx context.Context, merchantID, customerID uuid.UUID) (*BalanceResult, error) {
	ctx, span := tracer.Start(ctx, "loyalty.Balance")
	defer span.End()

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ? AND merchant_id = ?", customerID, merchantID).
		Count(&n).Error; err != nil {
		return nil, errors.Wrap(err, "load customer")
	}
	if n == 0 {
		return nil, notFoundError(msgCustomerNotFound)
	}
	balance, err := walletBalance(ctx, s.db, merchantID, customerID)
	if err != nil {
		return nil, err
	}
	return &BalanceResult{MerchantID: merchantID, CustomerID: customerID, Balance: balance}, nil
}
