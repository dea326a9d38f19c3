package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	"github.com/next-trace/scg-sdk-bus/registry"
	"github.com/next-trace/scg-sdk-bus/sdkbus"
)

type tenantView struct {
	Tenant cbus.TenantKey       `json:"tenant"`
	Queues []registry.QueueStat `json:"queues"`
	Loops  []sdkbus.LoopStat    `json:"loops"`
}

type retiredView struct {
	Tenant  cbus.TenantKey `json:"tenant"`
	Removed []string       `json:"removed"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	if h.bus.ShuttingDown() {
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "sdk bus is shutting down")

		return
	}

	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) listQueues(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, h.queues.Snapshot())
}

func (h *Handler) listLoops(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, h.bus.Loops())
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)

	view := tenantView{Tenant: tenant, Queues: []registry.QueueStat{}, Loops: []sdkbus.LoopStat{}}

	for _, q := range h.queues.Snapshot() {
		if q.Kind != cbus.KindGateway && q.Tenant == tenant {
			view.Queues = append(view.Queues, q)
		}
	}

	for _, l := range h.bus.Loops() {
		if l.Tenant == tenant {
			view.Loops = append(view.Loops, l)
		}
	}

	if len(view.Queues) == 0 && len(view.Loops) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "tenant "+tenant.String()+" is not registered")

		return
	}

	writeSuccess(w, http.StatusOK, view)
}

func (h *Handler) retireTenant(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)

	kinds := h.bus.RetireService(tenant)

	removed := make([]string, 0, len(kinds))
	for _, k := range kinds {
		removed = append(removed, k.String())
	}

	h.logger.Info("tenant retired over admin api",
		"tenant", tenant.String(),
		"request_id", requestID(r.Context()),
		"removed", len(removed))

	writeSuccess(w, http.StatusOK, retiredView{Tenant: tenant, Removed: removed})
}

func tenantParam(r *http.Request) cbus.TenantKey {
	return cbus.Tenant(chi.URLParam(r, "service"), chi.URLParam(r, "context"))
}
