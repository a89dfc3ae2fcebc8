// Package middleware - securityheaders.go
//
// Cross-origin isolation headers for every HTTP response. Browser MPC
// client libraries commonly rely on SharedArrayBuffer for WASM worker
// threads (key generation and signing are CPU-heavy); browsers only grant
// SharedArrayBuffer to a cross-origin-isolated document, which requires
// both headers below on every response that serves the app shell. The
// middleware is mounted on the whole router, so the static file route and
// the WebSocket upgrade route both carry them.
package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders sets the pair of headers needed for cross-origin
// isolation (COEP/COOP). Trimmed down from the teacher's full CSP/HSTS
// suite, which targets a server-rendered multi-tenant SaaS app — this
// server has no templates, cookies, or same-site concerns to defend.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cross-Origin-Embedder-Policy", "require-corp")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Next()
	}
}
