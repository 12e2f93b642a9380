// Package profiling mounts the pprof endpoints on the API router.
//
// These expose goroutine stacks and heap contents, so they are off unless
// server.profiling is set.
package profiling

import (
	"net/http/pprof"
	"runtime"

	"github.com/go-chi/chi/v5"
)

// Path is the prefix the endpoints are served under
const Path = "/debug/pprof"

// RegisterRoutes registers the pprof handlers on router and turns on block
// and mutex sampling so those profiles have data
func RegisterRoutes(router chi.Router) {
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	router.Route(Path, func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)

		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
}
