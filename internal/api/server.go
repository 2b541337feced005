package api

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"time"

	"facewatch/config"
	"facewatch/internal/api/handlers"
	"facewatch/internal/api/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const sessionName = "facewatch_session"

// NewRouter baut die gin-Engine mit Middleware-Kette und allen Routen
func NewRouter(cfg *config.Config, h *handlers.Handler) (*gin.Engine, error) {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))

	secret, err := sessionSecret(cfg.Auth.SessionSecret)
	if err != nil {
		return nil, err
	}
	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(sessionName, store))

	translator, err := middleware.NewTranslator(cfg.Server.DefaultLanguage)
	if err != nil {
		return nil, err
	}
	router.Use(middleware.I18n(translator))

	h.RegisterRoutes(router)
	return router, nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AddAllowHeaders("Authorization")
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

// sessionSecret liefert das konfigurierte Secret oder ein zufälliges (Sessions überleben dann keinen Neustart)
func sessionSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	log.Warn("auth.session_secret not set, using a random secret; sessions will not survive restarts")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// Server kapselt den HTTP-Server samt Handlern
type Server struct {
	http    *http.Server
	handler *handlers.Handler
}

// NewServer erstellt den HTTP-Server
func NewServer(cfg *config.Config, h *handlers.Handler) (*Server, error) {
	router, err := NewRouter(cfg, h)
	if err != nil {
		return nil, err
	}
	return &Server{
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handler: h,
	}, nil
}

// Start blockiert, bis der Server beendet wird
func (s *Server) Start() error {
	log.Infof("Starting HTTP server on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown beendet laufende Streams und danach den Server
func (s *Server) Shutdown(ctx context.Context) error {
	s.handler.Close()
	return s.http.Shutdown(ctx)
}
