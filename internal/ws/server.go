package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lavamoat/tss-relay/internal/broadcast"
	"github.com/lavamoat/tss-relay/internal/handlers"
	"github.com/lavamoat/tss-relay/internal/logger"
	"github.com/lavamoat/tss-relay/internal/middleware"
	"github.com/lavamoat/tss-relay/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The coordination protocol has no browser-origin notion of its own —
	// parties are arbitrary MPC clients, not same-site browser tabs — so
	// origin checking is left to whatever reverse proxy fronts this
	// server in production (spec.md Non-goals: no auth).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter builds the gin engine serving both the WebSocket upgrade route
// at wsPath and static files out of staticDir.
func NewRouter(wsPath, staticDir string, s *store.Store, dispatcher *handlers.Dispatcher, bc *broadcast.Dispatcher) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.StructuredLogger(), gin.Recovery(), middleware.SecurityHeaders())

	r.GET("/"+wsPath, func(c *gin.Context) {
		// Pass the headers set so far so the 101 response carries them too.
		conn, err := upgrader.Upgrade(c.Writer, c.Request, c.Writer.Header())
		if err != nil {
			logger.WebSocket().Error().Err(err).Msg("upgrade failed")
			return
		}
		Serve(conn, s, dispatcher, bc)
	})

	static := r.Group("/")
	static.Use(middleware.Gzip(middleware.DefaultCompression))
	static.StaticFS("/", http.Dir(staticDir))

	return r
}
