package routes

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"loyalty-engine/database"
	"loyalty-engine/loyalty"
	"loyalty-engine/metrics"
	"loyalty-engine/middleware"
	"loyalty-engine/models"
	"loyalty-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("JWT_SECRET", "test-secret-key-for-unit-tests")
	os.Exit(m.Run())
}

type fixture struct {
	router     *gin.Engine
	merchantID uuid.UUID
	customerID uuid.UUID
	apiKey     string
}

func setup(t *testing.T, rateLimit int) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: database.NowUTC,
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	merchant := models.Merchant{Name: "Coffee", IsActive: true}
	require.NoError(t, db.Create(&merchant).Error)
	require.NoError(t, db.Create(&models.MerchantSettings{MerchantID: merchant.ID, EarnBps: 500, RedeemLimitBps: 5000}).Error)
	phone := "+79990000001"
	customer := models.Customer{MerchantID: merchant.ID, Phone: &phone}
	require.NoError(t, db.Create(&customer).Error)
	require.NoError(t, db.Create(&models.Wallet{MerchantID: merchant.ID, CustomerID: customer.ID, Balance: 40}).Error)

	key, prefix, hash, err := utils.GenerateAPIKey()
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.IntegrationKey{MerchantID: merchant.ID, Name: "pos", Prefix: prefix, KeyHash: hash, IsActive: true}).Error)

	r := gin.New()
	SetupRoutes(r, Deps{
		DB:         db,
		Service:    loyalty.NewService(db),
		Metrics:    metrics.New(),
		Logger:     zerolog.Nop(),
		RateLimit:  rateLimit,
		RateWindow: time.Minute,
	})
	return &fixture{router: r, merchantID: merchant.ID, customerID: customer.ID, apiKey: key}
}

func (f *fixture) get(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthPingsDatabase(t *testing.T) {
	f := setup(t, 0)
	w := f.get("/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsExposeRequestCounters(t *testing.T) {
	f := setup(t, 0)
	f.get("/health", nil)

	w := f.get("/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "loyalty_http_requests_total"))
}

func TestIntegrationRoutesRequireAPIKey(t *testing.T) {
	f := setup(t, 0)
	path := "/api/integrations/customers/" + f.customerID.String() + "/balance"

	w := f.get(path, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.get(path, map[string]string{middleware.APIKeyHeader: f.apiKey})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "40")
}

func TestIntegrationRoutesAreRateLimitedPerKey(t *testing.T) {
	f := setup(t, 1)
	path := "/api/integrations/customers/" + f.customerID.String() + "/balance"
	headers := map[string]string{middleware.APIKeyHeader: f.apiKey}

	assert.Equal(t, http.StatusOK, f.get(path, headers).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.get(path, headers).Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := setup(t, 0)
	path := "/api/admin/merchants/" + f.merchantID.String() + "/staff-motivation/leaderboard"

	w := f.get(path, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := utils.GenerateToken(uuid.New(), "admin@loyalty.local", utils.RoleAdmin, nil)
	require.NoError(t, err)
	w = f.get(path, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutesRejectForeignMerchantUser(t *testing.T) {
	f := setup(t, 0)
	other := uuid.New()
	token, err := utils.GenerateToken(uuid.New(), "owner@other.local", utils.RoleMerchant, &other)
	require.NoError(t, err)

	w := f.get("/api/admin/merchants/"+f.merchantID.String()+"/staff-motivation/leaderboard",
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
