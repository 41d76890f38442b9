package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tenant-broadcast/internal/auth"
	"tenant-broadcast/internal/broadcast"
	"tenant-broadcast/internal/model"
	"tenant-broadcast/internal/queue"
	"tenant-broadcast/internal/sender"
	"tenant-broadcast/internal/storage"
)

type CreateTenantRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	InstanceName string `json:"instance_name"`
	APIKey       string `json:"api_key"`
}

type CreateTenantResponse struct {
	Tenant model.Tenant `json:"tenant"`
	Token  string       `json:"token"`
}

// ConfigRequest carries a partial update; omitted fields keep their value.
type ConfigRequest struct {
	MaxConcurrent *int `json:"max_concurrent,omitempty"`
	MinIntervalMs *int `json:"min_interval_ms,omitempty"`
	Retries       *int `json:"retries,omitempty"`
}

type ConfigResponse struct {
	MaxConcurrent int `json:"max_concurrent"`
	MinIntervalMs int `json:"min_interval_ms"`
	Retries       int `json:"retries"`
}

type StartBroadcastResponse struct {
	JobID string `json:"job_id"`
}

type StopResponse struct {
	Rejected int `json:"rejected"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (c ConfigRequest) partial() (queue.PartialConfig, error) {
	p := queue.PartialConfig{MaxConcurrent: c.MaxConcurrent, Retries: c.Retries}
	if c.MinIntervalMs != nil {
		ms := *c.MinIntervalMs
		if ms < 0 || int64(ms) > queue.MaxMinInterval.Milliseconds() {
			return p, fmt.Errorf("%w: min_interval_ms must be between 0 and %d, got %d",
				queue.ErrInvalidConfig, queue.MaxMinInterval.Milliseconds(), ms)
		}
		d := time.Duration(ms) * time.Millisecond
		p.MinInterval = &d
	}
	return p, nil
}

func toConfigResponse(c queue.Config) ConfigResponse {
	return ConfigResponse{
		MaxConcurrent: c.MaxConcurrent,
		MinIntervalMs: int(c.MinInterval.Milliseconds()),
		Retries:       c.Retries,
	}
}

// @Summary Health check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// @Summary Create a tenant
// @Tags Admin
// @Security AdminAuth
// @Accept json
// @Produce json
// @Param body body CreateTenantRequest true "Tenant"
// @Success 201 {object} CreateTenantResponse
// @Failure 400 {object} ErrorResponse
// @Router /admin/tenants [post]
func (a *API) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var body CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	if strings.TrimSpace(body.InstanceName) == "" || strings.TrimSpace(body.APIKey) == "" {
		writeError(w, http.StatusBadRequest, "instance_name and api_key are required")
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	tenant, err := a.Tenants.CreateTenant(r.Context(), model.Tenant{
		ID:           body.ID,
		Name:         body.Name,
		InstanceName: body.InstanceName,
		APIKey:       body.APIKey,
	})
	if err != nil {
		a.fail(w, err)
		return
	}

	if a.Provisioner != nil {
		if err := a.Provisioner.Provision(r.Context(), tenant.ID); err != nil {
			a.Log.Error().Err(err).Str("tenant", tenant.ID).Msg("failed to provision tenant")
			a.fail(w, err)
			return
		}
	}

	token, err := a.Auth.GenerateToken(tenant.ID)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.Log.Info().Str("tenant", tenant.ID).Msg("created tenant")
	writeJSON(w, http.StatusCreated, CreateTenantResponse{Tenant: tenant, Token: token})
}

// @Summary Delete a tenant
// @Tags Admin
// @Security AdminAuth
// @Param id path string true "Tenant ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /admin/tenants/{id} [delete]
func (a *API) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.Tenants.DeleteTenant(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	if a.Provisioner != nil {
		if err := a.Provisioner.Deprovision(r.Context(), id); err != nil {
			a.Log.Warn().Err(err).Str("tenant", id).Msg("failed to deprovision tenant")
		}
	}
	if err := a.Broadcasts.RemoveTenant(r.Context(), id); err != nil {
		a.Log.Warn().Err(err).Str("tenant", id).Msg("tenant queue did not drain")
	}

	a.Log.Info().Str("tenant", id).Msg("deleted tenant")
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Queue stats for every tenant
// @Tags Admin
// @Security AdminAuth
// @Produce json
// @Success 200 {object} map[string]queue.Stats
// @Router /admin/stats [get]
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Broadcasts.Stats())
}

// @Summary Start a broadcast
// @Tags Broadcasts
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param body body model.BroadcastRequest true "Broadcast"
// @Success 202 {object} StartBroadcastResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /broadcasts [post]
func (a *API) StartBroadcast(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.GetTenantID(r)

	var body model.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	jobID, err := a.Broadcasts.Start(r.Context(), tenantID, body)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartBroadcastResponse{JobID: jobID})
}

// @Summary Broadcast progress
// @Tags Broadcasts
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} progress.Record
// @Failure 404 {object} ErrorResponse
// @Router /broadcasts/{id} [get]
func (a *API) GetProgress(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.Broadcasts.Progress(auth.GetTenantID(r), chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// @Summary Stop queued broadcasts
// @Description Rejects every queued send of the tenant. In-flight sends finish.
// @Tags Broadcasts
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} StopResponse
// @Router /broadcasts/stop [post]
func (a *API) StopBroadcasts(w http.ResponseWriter, r *http.Request) {
	n := a.Broadcasts.Stop(auth.GetTenantID(r))
	writeJSON(w, http.StatusOK, StopResponse{Rejected: n})
}

// @Summary Update the tenant's broadcast config
// @Tags Config
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param body body ConfigRequest true "Partial config"
// @Success 200 {object} ConfigResponse
// @Failure 400 {object} ErrorResponse
// @Router /config [put]
func (a *API) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	partial, err := body.partial()
	if err != nil {
		a.fail(w, err)
		return
	}
	if partial.IsEmpty() {
		writeError(w, http.StatusBadRequest, "no config fields provided")
		return
	}

	cfg, err := a.Broadcasts.UpdateConfig(r.Context(), auth.GetTenantID(r), partial)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}

// @Summary Current broadcast config
// @Tags Config
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} ConfigResponse
// @Router /config [get]
func (a *API) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConfigResponse(a.Broadcasts.Config(auth.GetTenantID(r))))
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.Log.Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, broadcast.ErrNoRecipients),
		errors.Is(err, broadcast.ErrEmptyMessage),
		errors.Is(err, sender.ErrInvalidRecipient),
		errors.Is(err, queue.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, broadcast.ErrUnknownTenant),
		errors.Is(err, storage.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, broadcast.ErrDuplicateJob),
		errors.Is(err, storage.ErrTenantExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
