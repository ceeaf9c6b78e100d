package database

import (
	"os"
	"time"

	"loyalty-engine/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NowUTC is the clock handed to GORM so that timestamps compare consistently
// across drivers.
func NowUTC() time.Time {
	return time.Now().UTC()
}

func Connect() (*gorm.DB, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=loyalty port=5432 sslmode=disable"
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{NowFunc: NowUTC})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql handle")
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return errors.Wrap(err, "auto-migrate")
	}

	// A staff member is awarded at most once per order. Refund rows repeat.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_staff_motivation_purchase_once
		ON staff_motivation_entries (merchant_id, order_id, staff_id)
		WHERE action = 'PURCHASE'
	`).Error; err != nil {
		return errors.Wrap(err, "create staff motivation purchase index")
	}

	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`ALTER TABLE wallets DROP CONSTRAINT IF EXISTS wallets_balance_non_negative`).Error; err != nil {
			return errors.Wrap(err, "drop wallet balance check")
		}
		if err := db.Exec(`ALTER TABLE wallets ADD CONSTRAINT wallets_balance_non_negative CHECK (balance >= 0) NOT VALID`).Error; err != nil {
			return errors.Wrap(err, "add wallet balance check")
		}
	}

	return nil
}

func CreateDefaultAdmin(db *gorm.DB) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" {
		adminEmail = "admin@loyalty.local"
	}
	if adminPassword == "" {
		adminPassword = "admin123"
	}

	var existingUser models.User
	result := db.Where("email = ?", adminEmail).First(&existingUser)
	if result.Error == nil {
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash admin password")
	}

	admin := models.User{
		Email:    adminEmail,
		Password: string(hashedPassword),
		Role:     "admin",
		Name:     "Admin User",
	}

	if err := db.Create(&admin).Error; err != nil {
		return errors.Wrap(err, "create admin")
	}

	log.Info().Str("email", adminEmail).Msg("default admin created")
	return nil
}
