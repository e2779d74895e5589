package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/Chat/internal/adapters/signal"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/config"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	cookieName    = "ChatSessions"
	tokenKey      = "client_token"
	sessionKey    = "token"
	identityKey   = "identity"
	bearerPrefix  = "Bearer "
	queryTokenKey = "token"
)

type Deps struct {
	Orch     *orch.Orchestrator
	Gateway  *signal.Gateway
	Sessions core.SessionResolver
}

// ClientTokenMiddleware picks the session token from the Authorization
// header, the token query parameter or the cookie session, in that order.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, bearerPrefix) {
			token = strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
		}
		if token == "" {
			token = c.Query(queryTokenKey)
		}
		if token == "" {
			if v, ok := sessions.Default(c).Get(sessionKey).(string); ok {
				token = v
			}
		}
		c.Set(tokenKey, token)
		c.Next()
	}
}

// RequireSession resolves the token and rejects the request without a
// live session.
func RequireSession(resolver core.SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetString(tokenKey)
		if token == "" {
			abortWithError(c, domain.ErrAuthenticationFailed)
			return
		}
		sess, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("resolve session")
			abortWithError(c, domain.ErrInternal)
			return
		}
		if sess == nil {
			abortWithError(c, domain.ErrAuthenticationFailed)
			return
		}
		c.Set(identityKey, sess.Identity())
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
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

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Session.TTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Mode == "release",
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(cookieName, store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": cfg.NodeID, "connections": deps.Orch.Registry.Len()})
	})

	api := r.Group("/api")
	api.PUT("/session", putSession(deps.Sessions))
	api.DELETE("/session", deleteSession(deps.Sessions))
	api.GET("/rooms", RequireSession(deps.Sessions), listRooms(deps.Orch))
	api.GET("/rooms/:id/roster", RequireSession(deps.Sessions), getRoster(deps.Orch))
	api.GET("/ws", func(c *gin.Context) {
		deps.Gateway.Serve(ctx, c.Writer, c.Request, c.GetString(tokenKey))
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

type sessionRequest struct {
	Token string `json:"token" binding:"required,max=512"`
}

func putSession(resolver core.SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, &domain.ValidationError{Field: "token", Reason: "required"})
			return
		}
		sess, err := resolver.Resolve(c.Request.Context(), req.Token)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("resolve session")
			abortWithError(c, domain.ErrInternal)
			return
		}
		if sess == nil {
			abortWithError(c, domain.ErrAuthenticationFailed)
			return
		}
		s := sessions.Default(c)
		s.Set(sessionKey, req.Token)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save cookie session")
			abortWithError(c, domain.ErrInternal)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": sess.UserID, "isAdmin": sess.IsAdmin})
	}
}

func deleteSession(resolver core.SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetString(tokenKey)
		if token == "" {
			abortWithError(c, domain.ErrAuthenticationFailed)
			return
		}
		if err := resolver.Revoke(c.Request.Context(), token); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("revoke session")
			abortWithError(c, domain.ErrInternal)
			return
		}
		s := sessions.Default(c)
		s.Clear()
		s.Options(sessions.Options{Path: "/", MaxAge: -1})
		if err := s.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("clear cookie session")
		}
		c.Status(http.StatusNoContent)
	}
}

type rosterResponse struct {
	RoomID     domain.RoomID   `json:"roomId"`
	Name       string          `json:"name"`
	OwnerID    domain.UserID   `json:"ownerId"`
	Capacity   int             `json:"capacity"`
	Protected  bool            `json:"protected"`
	RoomUsers  []domain.UserID `json:"roomUsers"`
	Count      int             `json:"count"`
	Generation int64           `json:"generation"`
}

func getRoster(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, r, err := o.Describe(c.Request.Context(), domain.RoomID(c.Param("id")))
		if err != nil {
			abortWithError(c, err)
			return
		}
		users := r.Users
		if users == nil {
			users = []domain.UserID{}
		}
		c.JSON(http.StatusOK, rosterResponse{
			RoomID:     room.ID,
			Name:       room.Name,
			OwnerID:    room.OwnerID,
			Capacity:   room.Capacity,
			Protected:  room.Protected(),
			RoomUsers:  users,
			Count:      r.Count,
			Generation: r.Generation,
		})
	}
}

type activeRoom struct {
	RoomID domain.RoomID `json:"roomId"`
	Count  int           `json:"count"`
}

func listRooms(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rosters, err := o.ActiveRooms(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		rooms := make([]activeRoom, len(rosters))
		for i, r := range rosters {
			rooms[i] = activeRoom{RoomID: r.Room, Count: r.Count}
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrRoomBanned), errors.Is(err, domain.ErrAccountSuspended):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.IsDomain(err) && !errors.Is(err, domain.ErrInternal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{"code": domain.Code(err), "message": domain.PublicMessage(err)})
}
