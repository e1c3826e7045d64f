package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/internal/errkind"
	"github.com/hostfleet/controlplane/pkg/backup"
	"github.com/hostfleet/controlplane/pkg/lifecycle"
	"github.com/hostfleet/controlplane/pkg/provisioner"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

// Provisioner is the narrow slice of pkg/provisioner.Provisioner the
// admin API needs to start a new tenant's workflow.
type Provisioner interface {
	Execute(ctx context.Context, req provisioner.Request) (tenant.Info, error)
}

// ProvisionRequest is the admin-facing request shape for POST /system/tenants
// (spec.md §4.2's ProvisionRequest; templateID/fieldOverrides are optional
// post-hook inputs, see pkg/provisioner.Request).
type ProvisionRequest struct {
	BusinessName    string            `json:"business_name" validate:"required,min=2,max=80"`
	Domain          string            `json:"domain" validate:"required,fqdn"`
	Industry        string            `json:"industry" validate:"required"`
	Plan            string            `json:"plan" validate:"required,oneof=starter professional business agency"`
	OwnerUserID     string            `json:"owner_user_id" validate:"required"`
	TemplateID      string            `json:"template_id,omitempty"`
	FieldOverrides  map[string]string `json:"field_overrides,omitempty"`
}

type restoreRequest struct {
	Database bool `json:"database"`
	Files    bool `json:"files"`
}

type backupRequest struct {
	Kind string `json:"kind" validate:"required,oneof=daily weekly monthly final"`
}

type deleteTenantRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// TenantReader is the narrow slice of internal/db.Queries the admin API's
// read endpoints need — added alongside spec.md's DELETE route since an
// admin surface has to be able to read back what it provisioned.
type TenantReader interface {
	GetTenant(ctx context.Context, id string) (db.TenantRow, error)
	ListTenantsByStates(ctx context.Context, states []string) ([]db.TenantRow, error)
}

// SystemHandlers wires the admin API to the control plane's components.
// Every method here is mounted under an admin-token-protected route group
// (§6): these are operator actions, not tenant-facing endpoints.
type SystemHandlers struct {
	Provisioner Provisioner
	Machine     *lifecycle.Machine
	Backups     *backup.Engine
	Dunning     Ticker
	Tenants     TenantReader
	Logger      *slog.Logger
}

// allLifecycleStates lists every state ListTenants can filter on; an empty
// "state" query parameter means "no filter" and passes all of them.
var allLifecycleStates = []string{
	string(lifecycle.Provisioning), string(lifecycle.Active), string(lifecycle.WarningSent),
	string(lifecycle.Suspended), string(lifecycle.FinalWarningSent), string(lifecycle.ScheduledForDeletion),
	string(lifecycle.Deleted), string(lifecycle.ProvisioningFailed),
}

// GetTenant handles GET /system/tenants/{id}.
func (h *SystemHandlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")

	row, err := h.Tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			RespondError(w, http.StatusNotFound, "not_found", "tenant not found")
			return
		}
		h.Logger.Error("get tenant failed", "tenant_id", tenantID, "error", err)
		RespondError(w, http.StatusInternalServerError, "lookup_failed", err.Error())
		return
	}

	Respond(w, http.StatusOK, row)
}

// ListTenants handles GET /system/tenants, optionally filtered by ?state=.
func (h *SystemHandlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	states := allLifecycleStates
	if s := r.URL.Query().Get("state"); s != "" {
		states = []string{s}
	}

	rows, err := h.Tenants.ListTenantsByStates(r.Context(), states)
	if err != nil {
		h.Logger.Error("list tenants failed", "error", err)
		RespondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}

	start := params.Offset
	if start > len(rows) {
		start = len(rows)
	}
	end := start + params.PageSize
	if end > len(rows) {
		end = len(rows)
	}

	Respond(w, http.StatusOK, NewOffsetPage(rows[start:end], params, len(rows)))
}

// Ticker is the narrow slice of pkg/dunning.Scheduler the admin API needs
// to force an out-of-band dunning pass (§6: POST /system/dunning/tick).
type Ticker interface {
	Tick(ctx context.Context) error
}

// CreateTenant handles POST /system/tenants.
func (h *SystemHandlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	info, err := h.Provisioner.Execute(r.Context(), provisioner.Request{
		BusinessName:   req.BusinessName,
		Domain:         req.Domain,
		Industry:       req.Industry,
		Plan:           tenant.PlanTier(req.Plan),
		OwnerUserID:    req.OwnerUserID,
		TemplateID:     req.TemplateID,
		FieldOverrides: req.FieldOverrides,
	})
	if err != nil {
		var exists *errkind.AlreadyExists
		if errors.As(err, &exists) {
			h.Logger.Info("provision request deduplicated", "domain", req.Domain, "tenant_id", exists.TenantID)
			Respond(w, http.StatusConflict, info)
			return
		}
		h.Logger.Error("provisioning failed", "business_name", req.BusinessName, "error", err)
		RespondError(w, http.StatusBadGateway, "provisioning_failed", err.Error())
		return
	}

	Respond(w, http.StatusCreated, info)
}

// DeleteTenant handles DELETE /system/tenants/{id}: an administrative,
// immediate deletion, bypassing the dunning grace window (§4.3 AdminDelete).
func (h *SystemHandlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")

	var req deleteTenantRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.Machine.Apply(r.Context(), tenantID, lifecycle.AdminDelete, lifecycle.CauseAdmin, req.Reason); err != nil {
		h.Logger.Error("admin delete failed", "tenant_id", tenantID, "error", err)
		RespondError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreateBackup handles POST /system/tenants/{id}/backups.
func (h *SystemHandlers) CreateBackup(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")

	var req backupRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	record, err := h.Backups.Take(r.Context(), tenantID, req.Kind)
	if err != nil {
		h.Logger.Error("backup failed", "tenant_id", tenantID, "kind", req.Kind, "error", err)
		RespondError(w, http.StatusInternalServerError, "backup_failed", err.Error())
		return
	}

	Respond(w, http.StatusCreated, record)
}

// RestoreBackup handles POST /system/tenants/{id}/backups/{bid}/restore.
func (h *SystemHandlers) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	backupID := chi.URLParam(r, "bid")

	var req restoreRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if !req.Database && !req.Files {
		RespondError(w, http.StatusBadRequest, "invalid_request", "at least one of database or files must be selected")
		return
	}

	err := h.Backups.Restore(r.Context(), tenantID, backupID, backup.RestoreOptions{Database: req.Database, Files: req.Files})
	if err != nil {
		h.Logger.Error("restore failed", "tenant_id", tenantID, "backup_id", backupID, "error", err)
		RespondError(w, http.StatusInternalServerError, "restore_failed", err.Error())
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "restored"})
}

// ForceDunningTick handles POST /system/dunning/tick — an operator escape
// hatch for testing or manually re-running a missed schedule.
func (h *SystemHandlers) ForceDunningTick(w http.ResponseWriter, r *http.Request) {
	if err := h.Dunning.Tick(r.Context()); err != nil {
		h.Logger.Error("forced dunning tick failed", "error", err)
		RespondError(w, http.StatusInternalServerError, "tick_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ticked"})
}
