/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response and JSON
  serialization, then delegates to the orchestrator and stores. The
  batch itself never knows HTTP exists; see credit/batch.go.

ENDPOINTS:
  Cron:
    GET/POST /api/cron/settlement        Run today's batch (shared secret)

  Families:
    GET    /api/families                 List families
    POST   /api/families                 Create/update family schedule
    GET    /api/families/{id}            Family details
    GET    /api/families/{id}/tiers      Interest tier table
    PUT    /api/families/{id}/tiers      Replace tier table (validated)
    GET    /api/families/{id}/settlements Settlement history
    GET    /api/families/{id}/reports    Report/audit history

  Children:
    GET    /api/children/{id}/credit        Credit settings
    PUT    /api/children/{id}/credit        Save credit settings
    GET    /api/children/{id}/settlements   Child settlement history

ERROR HANDLING:
  400 validation, 401 bad cron secret, 404 missing rows, 409 duplicate
  settlement, 500 orchestrator failure. Per-family batch errors are NOT
  500s: the cron response is 200 with the errors listed in the body.
*/
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearth/credit-engine/credit"
	"github.com/hearth/credit-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Orchestrator *credit.Orchestrator

	// CronSecret guards the trigger endpoint. Empty disables the
	// endpoint entirely rather than leaving it open.
	CronSecret string

	// Now is the clock for "today"; nil means time.Now. Tests pin it.
	Now func() time.Time
}

// NewHandler creates a handler around the store and orchestrator.
func NewHandler(store *sqlite.Store, orch *credit.Orchestrator, cronSecret string) *Handler {
	return &Handler{Store: store, Orchestrator: orch, CronSecret: cronSecret}
}

func (h *Handler) today() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// =============================================================================
// CRON TRIGGER
// =============================================================================

// TriggerSettlement runs the daily batch. Safe to deliver twice: the
// audit guard turns the second delivery into skips.
func (h *Handler) TriggerSettlement(w http.ResponseWriter, r *http.Request) {
	if h.CronSecret == "" || r.Header.Get("X-Cron-Secret") != h.CronSecret {
		writeError(w, http.StatusUnauthorized, "invalid cron secret", nil)
		return
	}

	today := h.today()
	if override := r.URL.Query().Get("date"); override != "" {
		// Manual re-trigger for a specific day (operator use).
		parsed, err := time.Parse("2006-01-02", override)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD", err)
			return
		}
		today = parsed
	}

	result, err := h.Orchestrator.RunDue(r.Context(), today)
	if err != nil {
		// Only the orchestrator's own setup failing reaches here.
		writeError(w, http.StatusInternalServerError, "settlement batch failed", err)
		return
	}

	writeJSON(w, http.StatusOK, TriggerResponse{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Results:   TriggerResults{Settlement: result},
	})
}

// =============================================================================
// FAMILIES
// =============================================================================

func (h *Handler) ListFamilies(w http.ResponseWriter, r *http.Request) {
	families, err := h.Store.ListFamilies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list families", err)
		return
	}
	out := make([]FamilyDTO, 0, len(families))
	for _, f := range families {
		out = append(out, toFamilyDTO(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetFamily(w http.ResponseWriter, r *http.Request) {
	id := credit.FamilyID(chi.URLParam(r, "id"))
	f, err := h.Store.GetFamily(r.Context(), id)
	if err != nil {
		writeStoreError(w, "family", err)
		return
	}
	writeJSON(w, http.StatusOK, toFamilyDTO(*f))
}

func (h *Handler) SaveFamily(w http.ResponseWriter, r *http.Request) {
	var dto FamilyDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if dto.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	f := credit.Family{
		ID: credit.FamilyID(dto.ID), Name: dto.Name,
		SettlementDay: dto.SettlementDay, Recipient: dto.Recipient,
	}
	if err := h.Store.SaveFamily(r.Context(), f); err != nil {
		if credit.IsConfigError(err) {
			writeError(w, http.StatusBadRequest, "invalid settlement schedule", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save family", err)
		return
	}
	writeJSON(w, http.StatusOK, toFamilyDTO(f))
}

// =============================================================================
// TIERS
// =============================================================================

func (h *Handler) GetTiers(w http.ResponseWriter, r *http.Request) {
	id := credit.FamilyID(chi.URLParam(r, "id"))
	tiers, err := h.Store.GetTiers(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load tiers", err)
		return
	}
	out := make([]TierDTO, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, toTierDTO(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ReplaceTiers(w http.ResponseWriter, r *http.Request) {
	id := credit.FamilyID(chi.URLParam(r, "id"))

	var dtos []TierDTO
	if err := json.NewDecoder(r.Body).Decode(&dtos); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	tiers := make([]credit.InterestTier, 0, len(dtos))
	for _, d := range dtos {
		t, err := d.toTier()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tier rate", err)
			return
		}
		tiers = append(tiers, t)
	}

	if err := h.Store.ReplaceTiers(r.Context(), id, tiers); err != nil {
		if credit.IsConfigError(err) {
			writeError(w, http.StatusBadRequest, "invalid tier table", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save tiers", err)
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HISTORY
// =============================================================================

func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	id := credit.FamilyID(chi.URLParam(r, "id"))
	records, err := h.Store.ListRecords(r.Context(), id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

func (h *Handler) ListChildSettlements(w http.ResponseWriter, r *http.Request) {
	id := credit.ChildID(chi.URLParam(r, "id"))
	records, err := h.Store.ListRecordsForChild(r.Context(), id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

func toRecordDTOs(records []credit.SettlementRecord) []SettlementRecordDTO {
	out := make([]SettlementRecordDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordDTO(rec))
	}
	return out
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	id := credit.FamilyID(chi.URLParam(r, "id"))
	entries, err := h.Store.ListEntries(r.Context(), id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load report log", err)
		return
	}
	out := make([]ReportEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// CREDIT SETTINGS
// =============================================================================

func (h *Handler) GetCreditSettings(w http.ResponseWriter, r *http.Request) {
	childID := credit.ChildID(chi.URLParam(r, "id"))
	familyID := credit.FamilyID(r.URL.Query().Get("family"))
	settings, err := h.Store.GetSettings(r.Context(), familyID, childID)
	if err != nil {
		writeStoreError(w, "credit settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(*settings))
}

func (h *Handler) SaveCreditSettings(w http.ResponseWriter, r *http.Request) {
	childID := credit.ChildID(chi.URLParam(r, "id"))

	var dto CreditSettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if dto.CreditLimit < 0 || dto.OriginalCreditLimit < 0 || dto.MaxCreditLimit < 0 {
		writeError(w, http.StatusBadRequest, "limits must be non-negative", nil)
		return
	}

	settings := credit.CreditSettings{
		FamilyID: credit.FamilyID(dto.FamilyID), ChildID: childID, Enabled: dto.Enabled,
		CreditLimit: dto.CreditLimit, OriginalCreditLimit: dto.OriginalCreditLimit,
		MaxCreditLimit: dto.MaxCreditLimit,
	}
	if err := h.Store.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save credit settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(settings))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}

func writeStoreError(w http.ResponseWriter, what string, err error) {
	if credit.IsNotFound(err) {
		writeError(w, http.StatusNotFound, what+" not found", nil)
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load "+what, err)
}
