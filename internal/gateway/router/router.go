// Package router wires up all API gateway routes and applies the middleware
// chain (RequestID → CORS → Auth → RateLimit).
package router

import (
	"net/http"

	"github.com/distshard/shardcore/internal/auth/apikey"
	"github.com/distshard/shardcore/internal/auth/ratelimit"
	gwhandler "github.com/distshard/shardcore/internal/gateway/handler"
	gwmw "github.com/distshard/shardcore/internal/gateway/middleware"
	pkgmw "github.com/distshard/shardcore/pkg/middleware"
)

// New builds the full gateway HTTP handler with all routes and middleware.
//
// Route table:
//
//	POST   /api/v1/index        → primary shard  Shard.Index RPC
//	GET    /api/v1/search        → replica shard  Shard.Search RPC
//	POST   /api/v1/search        → replica shard  Shard.Search RPC
//	POST   /api/v1/configure    → primary shard  Shard.Configure RPC
//	GET    /health               → gateway health
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Auth → RateLimit → handler
func New(h *gwhandler.Handler, validator *apikey.Validator, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()

	// Health (unauthenticated)
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /api/v1/index", h.Index)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/configure", h.Configure)

	// Middleware chain — applied inside-out:
	// request → RequestID → CORS → Auth → RateLimit → mux
	var chain http.Handler = mux
	chain = gwmw.RateLimit(limiter)(chain)
	chain = gwmw.Auth(validator)(chain)
	chain = gwmw.CORS(gwmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
