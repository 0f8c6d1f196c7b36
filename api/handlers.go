/*
handlers.go - HTTP API handlers for the policy book

PURPOSE:
  Exposes the book service via REST API. Handles HTTP request/response,
  JSON serialization and workbook uploads, and delegates to book.Service.

ENDPOINTS:
  Policies:
    GET    /api/policies                   List (year, line, status, type)
    GET    /api/policies/{number}          Policy with derived facts
    POST   /api/policies                   Upsert one record and derive it

  Rules:
    POST   /api/rules/recompute            Re-derive (year, line)

  Collections:
    GET    /api/collections                Prioritized debts (year, line, priority)

  Reconciliation:
    GET    /api/reconciliation             Carrier match (period)
    GET    /api/reconciliation/periods     Periods on file

  Import / Export:
    POST   /api/import/policies            Multipart xlsx ("file", "sheet")
    POST   /api/import/indicators          Multipart xlsx (period)
    GET    /api/export/policies            xlsx download (year, line, status, type)

  Settings & Audit:
    GET    /api/settings                   Overrides + effective config
    PUT    /api/settings/{key}             Store one override
    GET    /api/runs                       Import/recompute audit (limit)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unreadable workbooks
  - 404: Policy not found
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - book/service.go: Operations
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/warp/policy-engine/book"
	"github.com/warp/policy-engine/engine"
	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/importer"
)

// maxUploadBytes bounds multipart uploads kept in memory.
const maxUploadBytes = 32 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *book.Service
	Scheduler *RecomputeScheduler
	Logger    zerolog.Logger
}

// NewHandler creates a new handler for the given service.
func NewHandler(svc *book.Service, logger zerolog.Logger) *Handler {
	return &Handler{Service: svc, Logger: logger.With().Str("component", "api").Logger()}
}

// Health reports liveness and the next scheduled recompute.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.Scheduler != nil {
		if next := h.Scheduler.NextRun(); !next.IsZero() {
			resp.NextRecompute = next.Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns the book, optionally filtered.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	policies, err := h.Service.Policies(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list policies", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTOs(policies))
}

// GetPolicy returns one policy by number. Leading zeros are ignored.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	p, err := h.Service.Policy(r.Context(), number)
	if err != nil {
		h.fail(w, r, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// UpsertPolicy stores one record and returns it with derived facts.
func (h *Handler) UpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Service.UpsertPolicy(r.Context(), req.ToRecord())
	if err != nil {
		h.fail(w, r, "Failed to save policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// =============================================================================
// RULES
// =============================================================================

// Recompute re-derives the matching policies and rebuilds renewal chains.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	res, err := h.Service.Recompute(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to recompute", err)
		return
	}
	if res.Errors == nil {
		res.Errors = []engine.RecordError{}
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// COLLECTIONS
// =============================================================================

// Collections returns prioritized debts and a summary.
func (h *Handler) Collections(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}
	priority, err := parsePriority(r.URL.Query().Get("priority"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid priority", err)
		return
	}

	report, err := h.Service.Collections(r.Context(), filter, priority)
	if err != nil {
		h.fail(w, r, "Failed to assess collections", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconcile matches carrier indicators against the book.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Reconcile(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		h.fail(w, r, "Failed to reconcile", err)
		return
	}
	if res.Items == nil {
		res.Items = []engine.MatchItem{}
	}
	if res.Periods == nil {
		res.Periods = []engine.PeriodSummary{}
	}
	writeJSON(w, http.StatusOK, res)
}

// ListPeriods returns the indicator periods on file.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Service.Periods(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list periods", err)
		return
	}
	if periods == nil {
		periods = []string{}
	}
	writeJSON(w, http.StatusOK, periods)
}

// =============================================================================
// IMPORT / EXPORT
// =============================================================================

// ImportPolicies reads an uploaded workbook and derives its policies.
func (h *Handler) ImportPolicies(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file", err)
		return
	}
	defer file.Close()

	sheet, err := importer.ReadPolicies(file, r.FormValue("sheet"))
	if err != nil {
		h.fail(w, r, "Failed to read workbook", err)
		return
	}

	res, err := h.Service.ImportPolicies(r.Context(), header.Filename, sheet.Records, sheet.Errors)
	if err != nil {
		h.fail(w, r, "Failed to import policies", err)
		return
	}

	writeJSON(w, http.StatusOK, ImportResponse{
		RunID:     res.RunID,
		Source:    header.Filename,
		Sheet:     sheet.Sheet,
		Processed: res.Processed,
		Updated:   res.Updated,
		Errors:    nonNilErrors(res.Errors),
	})
}

// ImportIndicators reads an uploaded carrier indicator workbook.
func (h *Handler) ImportIndicators(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file", err)
		return
	}
	defer file.Close()

	sheet, err := importer.ReadIndicators(file, r.FormValue("sheet"), r.URL.Query().Get("period"))
	if err != nil {
		h.fail(w, r, "Failed to read workbook", err)
		return
	}

	res, err := h.Service.ImportIndicators(r.Context(), header.Filename, sheet.Indicators, sheet.Errors)
	if err != nil {
		h.fail(w, r, "Failed to import indicators", err)
		return
	}

	writeJSON(w, http.StatusOK, ImportResponse{
		RunID:     res.RunID,
		Source:    header.Filename,
		Sheet:     sheet.Sheet,
		Processed: len(sheet.Indicators) + len(sheet.Errors),
		Updated:   res.Imported,
		Errors:    nonNilErrors(res.Errors),
	})
}

// ExportPolicies downloads the book as an xlsx workbook.
func (h *Handler) ExportPolicies(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	policies, err := h.Service.Policies(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list policies", err)
		return
	}

	var buf bytes.Buffer
	if err := importer.WritePolicies(&buf, policies); err != nil {
		h.fail(w, r, "Failed to build workbook", err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="polizas.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// SETTINGS & RUNS
// =============================================================================

// GetSettings returns stored overrides and the effective configuration.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.writeSettings(w, r, http.StatusOK)
}

// PutSetting stores one override. The value must parse and the resulting
// configuration must validate.
func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
	key := normalizeKey(chi.URLParam(r, "key"))

	var req PutSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Service.PutSetting(r.Context(), key, req.Value); err != nil {
		h.fail(w, r, "Failed to save setting", err)
		return
	}
	h.writeSettings(w, r, http.StatusOK)
}

func (h *Handler) writeSettings(w http.ResponseWriter, r *http.Request, status int) {
	ctx := r.Context()
	settings, err := h.Service.Settings(ctx)
	if err != nil {
		h.fail(w, r, "Failed to load settings", err)
		return
	}
	cfg, err := h.Service.EffectiveConfig(ctx)
	if err != nil {
		h.fail(w, r, "Failed to build configuration", err)
		return
	}
	writeJSON(w, status, SettingsResponse{
		Settings:  settings,
		Effective: factory.ToJSON(cfg),
		Keys:      factory.SettingKeys(),
	})
}

// ListRuns returns the import/recompute audit, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Service.Runs(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "Failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []book.Run{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// =============================================================================
// HELPERS
// =============================================================================

// parseFilter reads year, line, status and type query parameters.
func parseFilter(r *http.Request) (book.Filter, error) {
	q := r.URL.Query()
	var f book.Filter

	if v := strings.TrimSpace(q.Get("year")); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil || year < 1900 {
			return f, fmt.Errorf("year %q must be a 4-digit year", v)
		}
		f.Year = year
	}
	if v := strings.TrimSpace(q.Get("line")); v != "" {
		f.Line = engine.ParseLine(v)
		if f.Line != engine.LineLife && f.Line != engine.LineMedical {
			return f, fmt.Errorf("unknown line %q", v)
		}
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		f.Status = engine.Status(strings.ToUpper(v))
	}
	if v := strings.TrimSpace(q.Get("type")); v != "" {
		f.Type = engine.PolicyType(strings.ToUpper(v))
		switch f.Type {
		case engine.PolicyNew, engine.PolicyRenewal, engine.PolicyNotApplicable:
		default:
			return f, fmt.Errorf("unknown policy type %q", v)
		}
	}
	return f, nil
}

func parsePriority(v string) (engine.Priority, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "", nil
	}
	for _, p := range engine.Priorities {
		if engine.Priority(v) == p {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q", v)
}

func nonNilErrors(errs []engine.RecordError) []engine.RecordError {
	if errs == nil {
		return []engine.RecordError{}
	}
	return errs
}

// fail maps a service error to its HTTP status. Only server errors are
// logged; client errors are the caller's to fix.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case book.IsNotFound(err):
		status = http.StatusNotFound
	case book.IsClientError(err), importer.IsClientError(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg(message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
