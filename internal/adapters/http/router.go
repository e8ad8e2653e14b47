package http

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/dkeye/vrrtc/internal/adapters/signal"
	"github.com/dkeye/vrrtc/internal/app/session"
	"github.com/dkeye/vrrtc/internal/config"
	"github.com/dkeye/vrrtc/internal/core"
	"github.com/dkeye/vrrtc/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "vrrtc"
	keyLastMode    = "last_mode"
	keyLastAddr    = "last_address"
	clientTokenTTL = 3600 * 24 * 7
	sessionTTL     = 3600 * 24 * 30
)

// SessionService is the part of the session controller the control API drives.
type SessionService interface {
	Start(ctx context.Context, cfg session.StartConfig) error
	Stop(ctx context.Context) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
	Resume(ctx context.Context, h domain.SinkHandle) error
}

// RoomLister lists the rooms of a remote relay.
type RoomLister interface {
	List(ctx context.Context) ([]domain.Room, error)
}

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetSameSite(nethttp.SameSiteLaxMode)
			c.SetCookie("ct", token, clientTokenTTL, "/", "", secure, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func newEngine(cfg config.HTTPConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}
	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

// SetupRelayRouter serves the signaling relay and its room listing.
func SetupRelayRouter(ctx context.Context, cfg *config.Config, relay *signal.SignalWSController) *gin.Engine {
	r := newEngine(cfg.HTTP)

	r.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		relay.HandleSignal(ctx, c)
	})
	listRooms := func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, relay.Rooms())
	}
	r.GET("/api/rooms", listRooms)
	// same listing under the media-egress path
	r.GET("/api/streams/", listRooms)

	log.Info().Str("module", "adapters.http").Str("listen", cfg.Relay.Listen).Msg("relay router setup")
	return r
}

// SetupControlRouter serves the receiver control API. rooms may be nil.
func SetupControlRouter(cfg *config.Config, svc SessionService, rooms RoomLister) *gin.Engine {
	r := newEngine(cfg.HTTP)

	secret := cfg.HTTP.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Str("module", "adapters.http").Msg("http.secret not set, using an ephemeral cookie key")
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   sessionTTL,
		HttpOnly: true,
		Secure:   cfg.HTTP.SecureCookies,
		SameSite: nethttp.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware(cfg.HTTP.SecureCookies))

	h := &controlHandlers{cfg: cfg.Session, svc: svc, rooms: rooms}
	api := r.Group("/api")
	api.GET("/session", h.snapshot)
	api.POST("/session/start", h.start)
	api.POST("/session/stop", h.stop)
	api.POST("/sinks/:id/resume", h.resume)
	api.GET("/rooms", h.listRooms)

	log.Info().Str("module", "adapters.http").Str("listen", cfg.HTTP.Listen).Msg("control router setup")
	return r
}

type controlHandlers struct {
	cfg   config.SessionConfig
	svc   SessionService
	rooms RoomLister
}

type startRequest struct {
	Mode     string `json:"mode"`
	Address  string `json:"address"`
	Autoplay *bool  `json:"autoplay"`
	Debug    *bool  `json:"debug"`
}

// startConfig fills the request from the client's last start, then from config.
func (h *controlHandlers) startConfig(req startRequest, s sessions.Session) (session.StartConfig, error) {
	mode := req.Mode
	if mode == "" {
		mode, _ = s.Get(keyLastMode).(string)
	}
	if mode == "" {
		mode = h.cfg.Mode
	}
	m, err := domain.ParseMode(mode)
	if err != nil {
		return session.StartConfig{}, errors.Join(session.ErrInvalidConfig, err)
	}

	addr := req.Address
	if addr == "" {
		addr, _ = s.Get(keyLastAddr).(string)
	}
	if addr == "" {
		addr = h.cfg.Address
	}

	sc := session.StartConfig{Mode: m, Address: addr, Autoplay: h.cfg.Autoplay, Debug: h.cfg.Debug}
	if req.Autoplay != nil {
		sc.Autoplay = *req.Autoplay
	}
	if req.Debug != nil {
		sc.Debug = *req.Debug
	}
	return sc, nil
}

func (h *controlHandlers) start(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(nethttp.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	s := sessions.Default(c)
	sc, err := h.startConfig(req, s)
	if err == nil {
		err = h.svc.Start(c.Request.Context(), sc)
	}
	logger := log.With().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Logger()
	if err != nil {
		logger.Warn().Err(err).Str("mode", string(sc.Mode)).Msg("start rejected")
		abortWith(c, err)
		return
	}

	s.Set(keyLastMode, string(sc.Mode))
	s.Set(keyLastAddr, sc.Address)
	if err := s.Save(); err != nil {
		logger.Warn().Err(err).Msg("failed to save client session")
	}
	logger.Info().Str("mode", string(sc.Mode)).Str("address", sc.Address).Msg("session started")
	c.JSON(nethttp.StatusAccepted, gin.H{"mode": sc.Mode, "address": sc.Address})
}

func (h *controlHandlers) stop(c *gin.Context) {
	if err := h.svc.Stop(c.Request.Context()); err != nil {
		abortWith(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("session stopped")
	c.Status(nethttp.StatusNoContent)
}

func (h *controlHandlers) snapshot(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, snap)
}

func (h *controlHandlers) resume(c *gin.Context) {
	id := domain.SinkHandle(c.Param("id"))
	if err := h.svc.Resume(c.Request.Context(), id); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(nethttp.StatusNoContent)
}

func (h *controlHandlers) listRooms(c *gin.Context) {
	if h.rooms == nil {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "rooms api not configured"})
		return
	}
	list, err := h.rooms.List(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, list)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidConfig):
		return nethttp.StatusBadRequest
	case errors.Is(err, core.ErrSessionBusy):
		return nethttp.StatusConflict
	case errors.Is(err, core.ErrUnknownSink):
		return nethttp.StatusNotFound
	case errors.Is(err, core.ErrPlayback):
		return nethttp.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTransport), errors.Is(err, core.ErrSignalingParse):
		return nethttp.StatusBadGateway
	case errors.Is(err, core.ErrClosed):
		return nethttp.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nethttp.StatusGatewayTimeout
	}
	return nethttp.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}
