package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/credit-engine/credit"
	"github.com/hearth/credit-engine/notify"
	"github.com/hearth/credit-engine/store/sqlite"
)

const testSecret = "test-cron-secret"

// newTestServer stands up the full router on an in-memory store with one
// family due on the 15th: child kid-1 with 35 points of debt.
func newTestServer(t *testing.T) (http.Handler, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.SaveFamily(ctx, credit.Family{
		ID: "fam-1", Name: "Smith", SettlementDay: 15, Recipient: "parent@smith.test",
	}))
	require.NoError(t, store.SaveChild(ctx, "fam-1", "kid-1", "Alice"))

	max1, max2 := int64(19), int64(49)
	require.NoError(t, store.ReplaceTiers(ctx, "fam-1", []credit.InterestTier{
		{Order: 1, MinDebt: 0, MaxDebt: &max1, Rate: mustRate(t, "0.05")},
		{Order: 2, MinDebt: 20, MaxDebt: &max2, Rate: mustRate(t, "0.1")},
		{Order: 3, MinDebt: 50, Rate: mustRate(t, "0.15")},
	}))
	require.NoError(t, store.SaveSettings(ctx, credit.CreditSettings{
		FamilyID: "fam-1", ChildID: "kid-1", Enabled: true,
		CreditLimit: 40, OriginalCreditLimit: 50, MaxCreditLimit: 50,
	}))
	require.NoError(t, store.PostTransaction(ctx, "kid-1", -35, "spend", "reward redemption", "", time.Now()))

	orch := &credit.Orchestrator{
		Families:   store,
		Audit:      store,
		Processor:  credit.NewProcessor(store, store, store, store),
		Dispatcher: notify.LogDispatcher{},
		Reports:    notify.Builder{},
	}
	h := NewHandler(store, orch, testSecret)
	h.Now = func() time.Time { return time.Date(2026, time.January, 15, 6, 0, 0, 0, time.UTC) }
	return NewRouter(h), store
}

func mustRate(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func do(t *testing.T, router http.Handler, method, path, secret string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if secret != "" {
		req.Header.Set("X-Cron-Secret", secret)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// CRON TRIGGER
// =============================================================================

func TestTriggerSettlement_RequiresSecret(t *testing.T) {
	router, _ := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, router, "POST", "/api/cron/settlement", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, "POST", "/api/cron/settlement", "wrong", nil).Code)
}

func TestTriggerSettlement_EmptyConfiguredSecretDisablesEndpoint(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	router := NewRouter(NewHandler(store, &credit.Orchestrator{Families: store, Audit: store,
		Processor: credit.NewProcessor(store, store, store, store)}, ""))

	// An unset secret must not mean "no auth".
	assert.Equal(t, http.StatusUnauthorized, do(t, router, "POST", "/api/cron/settlement", "", nil).Code)
}

func TestTriggerSettlement_RunsBatch(t *testing.T) {
	router, store := newTestServer(t)

	rec := do(t, router, "POST", "/api/cron/settlement", testSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TriggerResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Results.Settlement)
	assert.Equal(t, 1, resp.Results.Settlement.Processed)
	assert.Empty(t, resp.Results.Settlement.Errors)

	balance, err := store.GetBalance(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-38), balance)

	// Cron retries are harmless.
	rec = do(t, router, "POST", "/api/cron/settlement", testSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Results.Settlement.Skipped)
}

func TestTriggerSettlement_DateOverride(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, "POST", "/api/cron/settlement?date=2026-02-15", testSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TriggerResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Results.Settlement.Processed)

	assert.Equal(t, http.StatusBadRequest,
		do(t, router, "POST", "/api/cron/settlement?date=tomorrow", testSecret, nil).Code)
}

// =============================================================================
// FAMILIES AND TIERS
// =============================================================================

func TestSaveFamily_Validation(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, "POST", "/api/families/", "", FamilyDTO{ID: "fam-2", Name: "Jones", SettlementDay: 31})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, "POST", "/api/families/", "", FamilyDTO{Name: "no id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, "POST", "/api/families/", "", FamilyDTO{ID: "fam-2", Name: "Jones", SettlementDay: 0})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetFamily_NotFound(t *testing.T) {
	router, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/families/ghost", "", nil).Code)
}

func TestReplaceTiers_RoundTripAndValidation(t *testing.T) {
	router, _ := newTestServer(t)
	max := int64(99)

	rec := do(t, router, "PUT", "/api/families/fam-1/tiers", "", []TierDTO{
		{Order: 1, MinDebt: 0, MaxDebt: &max, Rate: "0.02"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, "GET", "/api/families/fam-1/tiers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tiers []TierDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tiers))
	require.Len(t, tiers, 1)
	assert.Equal(t, "0.02", tiers[0].Rate)

	// Gap between brackets.
	rec = do(t, router, "PUT", "/api/families/fam-1/tiers", "", []TierDTO{
		{Order: 1, MinDebt: 0, MaxDebt: &max, Rate: "0.02"},
		{Order: 2, MinDebt: 200, Rate: "0.10"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unparseable rate.
	rec = do(t, router, "PUT", "/api/families/fam-1/tiers", "", []TierDTO{
		{Order: 1, MinDebt: 0, MaxDebt: &max, Rate: "five percent"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CREDIT SETTINGS AND HISTORY
// =============================================================================

func TestCreditSettings_RoundTrip(t *testing.T) {
	router, _ := newTestServer(t)

	rec := do(t, router, "GET", "/api/children/kid-1/credit?family=fam-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dto CreditSettingsDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	assert.Equal(t, int64(40), dto.CreditLimit)

	dto.CreditLimit = 45
	rec = do(t, router, "PUT", "/api/children/kid-1/credit", "", dto)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, "GET", "/api/children/kid-1/credit?family=fam-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	assert.Equal(t, int64(45), dto.CreditLimit)

	dto.CreditLimit = -1
	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", "/api/children/kid-1/credit", "", dto).Code)

	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/children/ghost/credit?family=fam-1", "", nil).Code)
}

func TestSettlementAndReportHistory(t *testing.T) {
	router, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, router, "POST", "/api/cron/settlement", testSecret, nil).Code)

	rec := do(t, router, "GET", "/api/families/fam-1/settlements", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []SettlementRecordDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, int64(3), records[0].InterestCalculated)
	assert.Len(t, records[0].Breakdown, 2)

	rec = do(t, router, "GET", "/api/children/kid-1/settlements", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&records))
	require.Len(t, records, 1)

	rec = do(t, router, "GET", "/api/families/fam-1/reports", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []ReportEntryDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "sent", entries[0].Status)
}
