package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// AuditHandler serves the read-only history endpoints backed by Postgres.
type AuditHandler struct {
	audit  domain.AuditStore
	ops    domain.OperationStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, ops domain.OperationStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		ops:    ops,
		logger: logHandler(logger, "audit"),
	}
}

// listAuditResponse wraps the audit list response.
type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// listOperationsResponse wraps the operation list response.
type listOperationsResponse struct {
	Operations []domain.OperationRecord `json:"operations"`
}

// ListAudit returns decision log entries, newest first.
// GET /api/audit?limit=50&offset=0&since=...&until=...
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries})
}

// ListOperations returns recorded ledger mutations for one vault.
// GET /api/vaults/{id}/operations?limit=50&offset=0
func (h *AuditHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	vaultID := r.PathValue("id")
	records, err := h.ops.ListByVault(r.Context(), vaultID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list operations failed",
			slog.String("vault_id", vaultID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}
	if records == nil {
		records = []domain.OperationRecord{}
	}
	writeJSON(w, http.StatusOK, listOperationsResponse{Operations: records})
}
