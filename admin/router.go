// Package admin serves read-mostly diagnostics for a running sdk bus over HTTP.
package admin

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	cbus "github.com/next-trace/scg-sdk-bus/contract/bus"
	"github.com/next-trace/scg-sdk-bus/registry"
	"github.com/next-trace/scg-sdk-bus/sdkbus"
)

// Queues reports queue depths; *registry.Registry implements it.
type Queues interface {
	Snapshot() []registry.QueueStat
}

// Bus is the part of *sdkbus.Bus the router needs.
type Bus interface {
	Loops() []sdkbus.LoopStat
	ShuttingDown() bool
	RetireService(tenant cbus.TenantKey) []cbus.QueueKind
}

type Handler struct {
	queues Queues
	bus    Bus
	logger *slog.Logger
}

func NewHandler(queues Queues, bus Bus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Handler{queues: queues, bus: bus, logger: logger}
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(handler.recoverMiddleware)

	r.Get("/healthz", handler.health)

	r.Get("/queues", handler.listQueues)
	r.Get("/loops", handler.listLoops)
	r.Route("/tenants/{service}/{context}", func(r chi.Router) {
		r.Get("/", handler.getTenant)
		r.Delete("/", handler.retireTenant)
	})

	return r
}
