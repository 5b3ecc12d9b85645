// Package api 提供房間的 HTTP 介面與路由
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/koopa0/system-design/gesturehub/internal/hub"
	"github.com/koopa0/system-design/gesturehub/internal/protocol"
	"github.com/koopa0/system-design/gesturehub/internal/room"
	"github.com/koopa0/system-design/gesturehub/pkg/logger"
)

// Deps 路由依賴
type Deps struct {
	Rooms          *room.Service
	Registry       *hub.Registry
	Dispatcher     *protocol.Dispatcher
	WS             http.Handler // 掛在 /ws/{room_code}/{player_id}
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter 建立 HTTP 路由
func NewRouter(d Deps) http.Handler {
	h := &Handler{
		rooms:      d.Rooms,
		registry:   d.Registry,
		dispatcher: d.Dispatcher,
		logger:     d.Logger,
		startedAt:  time.Now(),
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{HeaderPlayerID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.root)
	r.Get("/health", h.health)
	r.Get("/stats", h.stats)

	r.Route("/api/rooms", func(rt chi.Router) {
		rt.Get("/", h.listRooms)
		rt.Post("/create", h.createRoom)
		rt.Post("/join", h.joinRoom)
		rt.Get("/{room_code}", h.getRoom)
		rt.Delete("/{room_code}/{player_id}", h.leaveRoom)
	})

	if d.WS != nil {
		r.Method(http.MethodGet, "/ws/{room_code}/{player_id}", d.WS)
	}

	return r
}

// requestLogger 記錄每個請求，並把 request id 放進 context 供後續日誌使用
//
// WrapResponseWriter 保留 http.Hijacker，WebSocket 升級不受影響。
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.logger.InfoContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}
