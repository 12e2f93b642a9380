// Package router wires the outpack HTTP API onto a chi mux.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mrc-ide/outpack-server/internal/metrics"
	"github.com/mrc-ide/outpack-server/internal/query"
	"github.com/mrc-ide/outpack-server/internal/store"
	"github.com/mrc-ide/outpack-server/internal/web/events"
	"github.com/mrc-ide/outpack-server/internal/web/middleware"
	"github.com/mrc-ide/outpack-server/internal/web/profiling"
	"github.com/mrc-ide/outpack-server/internal/web/response"
)

// SchemaVersion is the outpack metadata schema version served at /
const SchemaVersion = "0.1.1"

// Deps are the components the API serves from
type Deps struct {
	Root    *store.Root
	Engine  *query.Engine
	Hub     *events.Hub
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// MaxBodySize bounds JSON request bodies; uploads are not limited
	MaxBodySize int64

	// Profiling mounts pprof under profiling.Path
	Profiling bool
}

// RouteInfo describes one registered route
type RouteInfo struct {
	Method  string
	Pattern string
}

// New builds the API handler. Hub and Metrics are optional.
func New(deps Deps) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxBodySize <= 0 {
		deps.MaxBodySize = 10 << 20
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.NotFound(response.NotFound)
	r.MethodNotAllowed(response.MethodNotAllowed)

	chain := middleware.NewChain(
		middleware.RequestID(),
		middleware.Logging(deps.Logger, "/metrics"),
		middleware.Recovery(deps.Logger),
	)
	if deps.Metrics != nil {
		chain.Use(middleware.Metrics(deps.Metrics))
	}
	r.Use(chain.Then)

	r.Get("/", h.root)
	r.Get("/checksum", h.checksum)

	r.Route("/metadata", func(r chi.Router) {
		r.Get("/list", h.metadataList)
		r.Get("/{id}/json", h.metadataJSON)
		r.Get("/{id}/text", h.metadataText)
	})
	r.Get("/packit/metadata", h.packitMetadata)

	r.Post("/packets/missing", h.missingPackets)
	r.Post("/files/missing", h.missingFiles)

	r.Get("/file/{hash}", h.getFile)
	r.Post("/file/{hash}", h.putFile)
	r.Post("/packet/{hash}", h.addPacket)

	r.Post("/query", h.query)
	r.Post("/query/parse", h.parse)
	r.Get("/packet/{id}/depends", h.depends)

	if deps.Hub != nil {
		r.Get("/packets/events", deps.Hub.Handler())
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	if deps.Profiling {
		profiling.RegisterRoutes(r)
	}

	return r
}

// Routes lists the routes registered on r
func Routes(r chi.Routes) ([]RouteInfo, error) {
	routes := make([]RouteInfo, 0)
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, RouteInfo{Method: method, Pattern: route})
		return nil
	})
	return routes, err
}
