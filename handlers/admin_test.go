package handlers

import (
	"net/http"
	"testing"

	"loyalty-engine/models"
	"loyalty-engine/staffmotivation"

	"github.com/google/uuid"
)

func seedStaffPoints(t *testing.T, env *testEnv, first string, outlet models.Outlet, points int, orderID string) models.Staff {
	t.Helper()
	staff := models.Staff{MerchantID: env.merchant.ID, FirstName: first, Login: first}
	if err := env.db.Create(&staff).Error; err != nil {
		t.Fatal(err)
	}
	entry := models.StaffMotivationEntry{
		MerchantID: env.merchant.ID,
		StaffID:    staff.ID,
		OutletID:   &outlet.ID,
		CustomerID: env.customer.ID,
		OrderID:    orderID,
		Action:     models.StaffActionPurchase,
		Points:     points,
		EventAt:    daysAgo(1),
	}
	if err := env.db.Create(&entry).Error; err != nil {
		t.Fatal(err)
	}
	return staff
}

func (e *testEnv) asUser(t *testing.T, u models.User, method, path string, body interface{}) int {
	t.Helper()
	w := doRequest(e.router, method, path, body, map[string]string{"Authorization": "Bearer " + tokenFor(t, u)})
	return w.Code
}

func TestLeaderboardForMerchantUser(t *testing.T) {
	env := setupEnv(t)
	outlet := models.Outlet{MerchantID: env.merchant.ID, Name: "Center"}
	if err := env.db.Create(&outlet).Error; err != nil {
		t.Fatal(err)
	}
	seedStaffPoints(t, env, "Anna", outlet, 30, "o-1")
	seedStaffPoints(t, env, "Boris", outlet, 10, "o-2")
	owner := seedUser(t, env.db, "owner@test.com", "password123", "merchant", &env.merchant.ID)

	path := "/api/admin/merchants/" + env.merchant.ID.String() + "/staff-motivation/leaderboard?limit=1"
	w := doRequest(env.router, "GET", path, nil, map[string]string{"Authorization": "Bearer " + tokenFor(t, owner)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var board staffmotivation.Leaderboard
	decode(t, w, &board)
	if len(board.Items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(board.Items))
	}
	if board.Items[0].StaffName != "Anna" || board.Items[0].Points != 30 || board.Items[0].OutletName != "Center" {
		t.Errorf("unexpected leader %+v", board.Items[0])
	}
	if board.Period.Period != staffmotivation.PeriodWeek {
		t.Errorf("expected week period, got %s", board.Period.Period)
	}

	if code := env.asUser(t, owner, "GET", "/api/admin/merchants/"+env.merchant.ID.String()+"/staff-motivation/leaderboard?limit=x", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", code)
	}
}

func TestAdminRoutesAreMerchantScoped(t *testing.T) {
	env := setupEnv(t)
	other := seedMerchant(t, env.db, "Other")
	owner := seedUser(t, env.db, "owner@test.com", "password123", "merchant", &other.ID)
	admin := seedUser(t, env.db, "admin@test.com", "password123", "admin", nil)

	path := "/api/admin/merchants/" + env.merchant.ID.String() + "/staff-motivation/leaderboard"
	if code := env.asUser(t, owner, "GET", path, nil); code != http.StatusForbidden {
		t.Errorf("other merchant user: expected 403, got %d", code)
	}
	if code := env.asUser(t, admin, "GET", path, nil); code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", code)
	}
}

func TestUpdateCustomerBlocksStopsRedemption(t *testing.T) {
	env := setupEnv(t)
	seedBalance(t, env.db, env.merchant.ID, env.customer.ID, 100)
	admin := seedUser(t, env.db, "admin@test.com", "password123", "admin", nil)

	path := "/api/admin/merchants/" + env.merchant.ID.String() + "/customers/" + env.customer.ID.String() + "/blocks"
	if code := env.asUser(t, admin, "PUT", path, jsonBody{"redemptions_blocked": true}); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	var stored models.Customer
	env.db.First(&stored, "id = ?", env.customer.ID)
	if !stored.RedemptionsBlocked || stored.AccrualsBlocked {
		t.Errorf("unexpected flags %+v", stored)
	}

	w := env.do("POST", "/api/integrations/bonus", jsonBody{
		"customer_id":     env.customer.ID,
		"idempotency_key": "blocked-1",
		"total":           100,
		"paid_bonus":      10,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for blocked redemption, got %d %s", w.Code, w.Body.String())
	}

	missing := "/api/admin/merchants/" + env.merchant.ID.String() + "/customers/" + uuid.NewString() + "/blocks"
	if code := env.asUser(t, admin, "PUT", missing, jsonBody{"accruals_blocked": true}); code != http.StatusNotFound {
		t.Errorf("unknown customer: expected 404, got %d", code)
	}
}

func TestUpdateSettingsChangesEarnRate(t *testing.T) {
	env := setupEnv(t)
	admin := seedUser(t, env.db, "admin@test.com", "password123", "admin", nil)

	path := "/api/admin/merchants/" + env.merchant.ID.String() + "/settings"
	if code := env.asUser(t, admin, "PUT", path, jsonBody{"earn_bps": 1000, "redeem_limit_bps": 5000}); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	w := env.do("POST", "/api/integrations/bonus/calculate", jsonBody{"customer_id": env.customer.ID, "total": 100})
	var res struct {
		BonusValue int64 `json:"bonus_value"`
	}
	decode(t, w, &res)
	if res.BonusValue != 10 {
		t.Errorf("expected bonus_value 10 after settings change, got %d", res.BonusValue)
	}

	if code := env.asUser(t, admin, "PUT", path, jsonBody{"earn_bps": 20000}); code != http.StatusBadRequest {
		t.Errorf("out of range bps: expected 400, got %d", code)
	}
}

func TestIntegrationKeyLifecycle(t *testing.T) {
	env := setupEnv(t)
	owner := seedUser(t, env.db, "owner@test.com", "password123", "merchant", &env.merchant.ID)
	auth := map[string]string{"Authorization": "Bearer " + tokenFor(t, owner)}
	base := "/api/admin/merchants/" + env.merchant.ID.String() + "/integration-keys"

	w := doRequest(env.router, "POST", base, jsonBody{"name": "web shop"}, auth)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID  uuid.UUID `json:"id"`
		Key string    `json:"key"`
	}
	decode(t, w, &created)

	balancePath := "/api/integrations/customers/" + env.customer.ID.String() + "/balance"
	w = doRequest(env.router, "GET", balancePath, nil, map[string]string{"X-Api-Key": created.Key})
	if w.Code != http.StatusOK {
		t.Fatalf("new key: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(env.router, "DELETE", base+"/"+created.ID.String(), nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = doRequest(env.router, "GET", balancePath, nil, map[string]string{"X-Api-Key": created.Key})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("revoked key: expected 401, got %d", w.Code)
	}

	w = doRequest(env.router, "POST", base, jsonBody{}, auth)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name: expected 400, got %d", w.Code)
	}
}
