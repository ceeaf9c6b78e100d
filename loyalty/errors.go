package loyalty

import (
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Kind classifies errors surfaced to callers.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindPolicy
	KindNotFound
	KindConflict
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error carries a human-readable message that is safe to return verbatim.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func validationError(msg string) error { return &Error{Kind: KindValidation, Message: msg} }
func policyError(msg string) error     { return &Error{Kind: KindPolicy, Message: msg} }
func notFoundError(msg string) error   { return &Error{Kind: KindNotFound, Message: msg} }
func conflictError(msg string) error   { return &Error{Kind: KindConflict, Message: msg} }
func forbiddenError(msg string) error  { return &Error{Kind: KindForbidden, Message: msg} }

// KindOf returns the Kind of err, or 0 when err is not a *Error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

// ErrAlreadyExists is the typed form of a unique-constraint violation.
var ErrAlreadyExists = errors.New("already exists")

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadyExists) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// asAlreadyExists maps a unique violation to ErrAlreadyExists and wraps
// everything else.
func asAlreadyExists(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return errors.Wrap(err, msg)
}

// Messages returned to callers.
const (
	msgHoldNotFound           = "Hold not found"
	msgHoldFinished           = "Hold already finished"
	msgHoldOtherOrder         = "Hold already bound to another order"
	msgHoldOtherMerchant      = "Hold belongs to another merchant"
	msgWalletNotFound         = "Wallet not found"
	msgReceiptNotFound        = "Receipt not found"
	msgCustomerNotFound       = "Customer not found"
	msgInsufficientPoints     = "Insufficient points"
	msgAccrualsBlocked        = "Начисления заблокированы администратором"
	msgRedemptionsBlocked     = "Списания заблокированы администратором"
	msgSameReceipt            = "Нельзя одновременно начислять и списывать баллы в одном чеке."
	msgItemsOrTotalRequired   = "items или total обязательны"
	msgIdempotencyRequired    = "idempotency_key required"
	msgOtherCustomerDone      = "Операция уже выполнена для другого клиента"
	msgOtherCustomerRunning   = "Операция уже выполняется для другого клиента"
	msgNotEnoughBonus         = "Недостаточно бонусов для списания"
	msgRedeemDailyCapExceeded = "Превышен дневной лимит списания"
	msgEarnDailyCapExceeded   = "Превышен дневной лимит начисления"
	msgRedeemAboveMax         = "Запрошенное списание превышает допустимый максимум"
	msgInvalidPhone           = "Некорректный номер телефона"
)
