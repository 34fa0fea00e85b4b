package server

import (
	"PerpEngine/internal/query"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type handlers struct {
	deps   *Deps
	logger zerolog.Logger
}

// ============================================================================
// Live reads
// ============================================================================

func (h *handlers) getPool(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Reader.Pool(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) getCustody(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Reader.Custody(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) listPositions(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	views, err := h.deps.Reader.Positions(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": views})
}

func (h *handlers) getStaking(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	typ, err := query.ParseStakingType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, "invalid staking type", http.StatusBadRequest)
		return
	}
	view, err := h.deps.Reader.Staking(r.Context(), owner, typ)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) getStakingPool(w http.ResponseWriter, r *http.Request) {
	typ, err := query.ParseStakingType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, "invalid staking type", http.StatusBadRequest)
		return
	}
	view, err := h.deps.Reader.StakingPool(r.Context(), typ)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// listFees serves from the projection table when history is wired and
// from the in-memory ring otherwise. The ring does not page.
func (h *handlers) listFees(w http.ResponseWriter, r *http.Request) {
	limit, before, ok := pageParams(w, r)
	if !ok {
		return
	}
	custodyID := r.URL.Query().Get("custody")

	if h.deps.History != nil {
		fees, err := h.deps.History.GetFeeHistory(r.Context(), custodyID, limit, before)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"fees": fees})
		return
	}
	if h.deps.Fees == nil {
		writeError(w, "fee history unavailable", http.StatusServiceUnavailable)
		return
	}
	fees := make([]query.FeeView, 0)
	for _, e := range h.deps.Fees.Recent(custodyID, limit) {
		fees = append(fees, query.FeeViewFrom(e))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fees": fees})
}

func (h *handlers) listOwnerFees(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	limit, _, ok := pageParams(w, r)
	if !ok {
		return
	}
	if h.deps.Fees == nil {
		writeError(w, "fee history unavailable", http.StatusServiceUnavailable)
		return
	}
	fees := make([]query.FeeView, 0)
	for _, e := range h.deps.Fees.ByOwner(owner, limit) {
		fees = append(fees, query.FeeViewFrom(e))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fees": fees})
}

// ============================================================================
// Projected history
// ============================================================================

func (h *handlers) listPositionHistory(w http.ResponseWriter, r *http.Request) {
	if !h.historyAvailable(w) {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	limit, before, ok := pageParams(w, r)
	if !ok {
		return
	}
	positions, err := h.deps.History.GetPositionHistory(r.Context(), owner, limit, before)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (h *handlers) getBalances(w http.ResponseWriter, r *http.Request) {
	if !h.historyAvailable(w) {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	resp, err := h.deps.History.GetBalances(r.Context(), owner)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listJournal(w http.ResponseWriter, r *http.Request) {
	if !h.historyAvailable(w) {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	limit, before, ok := pageParams(w, r)
	if !ok {
		return
	}
	entries, err := h.deps.History.GetJournalHistory(r.Context(), owner, limit, before)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

// ============================================================================
// Admin
// ============================================================================

func (h *handlers) takeSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.deps.TakeSnapshot == nil {
		writeError(w, "snapshots unavailable", http.StatusServiceUnavailable)
		return
	}
	seq, err := h.deps.TakeSnapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
}

func (h *handlers) rebuildProjections(w http.ResponseWriter, r *http.Request) {
	if h.deps.RebuildProjections == nil {
		writeError(w, "projections unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.deps.RebuildProjections(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

func (h *handlers) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	if !h.historyAvailable(w) {
		return
	}
	report, err := h.deps.History.VerifyIntegrity(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// Helpers
// ============================================================================

func (h *handlers) historyAvailable(w http.ResponseWriter) bool {
	if h.deps.History == nil {
		writeError(w, "history unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, "internal error", http.StatusInternalServerError)
}

func ownerParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	owner, err := uuid.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, "invalid owner", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return owner, true
}

// pageParams reads ?limit= and ?before=. An out-of-range limit falls back
// to the default page size.
func pageParams(w http.ResponseWriter, r *http.Request) (int, *int64, bool) {
	q := r.URL.Query()

	limit := defaultPageSize
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return 0, nil, false
		}
		if n > 0 && n <= maxPageSize {
			limit = n
		}
	}

	var before *int64
	if s := q.Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, "invalid before", http.StatusBadRequest)
			return 0, nil, false
		}
		before = &n
	}
	return limit, before, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
