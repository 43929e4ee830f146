package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iTrooz/podcast-proxy/internal/config"
	"github.com/iTrooz/podcast-proxy/internal/fetcher"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const serviceName = "podcast-proxy"

// Server represents the podcast proxy web service
type Server struct {
	config     *config.Config
	engine     *fetcher.Engine
	router     *gin.Engine
	httpServer *http.Server
}

// New creates a new server answering with engine
func New(cfg *config.Config, engine *fetcher.Engine) (*Server, error) {
	if engine == nil {
		return nil, errors.New("fetch engine is required")
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config: cfg,
		engine: engine,
	}
	s.router = s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(prometheusMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(s.config.Server.CORSOrigins) == 0 || containsWildcard(s.config.Server.CORSOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.config.Server.CORSOrigins
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsConfig))

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/itunes/search", s.handleSearch)
	r.POST("/parser", s.handleParser)

	return r
}

// Handler returns the HTTP handler serving every route (exported for testing)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port until Shutdown is called
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.Infof("Starting podcast proxy on port %d", s.config.Server.Port)
	logrus.Infof("Store driver: %s", s.config.Store.Driver)
	logrus.Infof("Cache TTL: %s", s.config.Cache.TTL)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight requests and pending store writes
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.engine.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logrus.Warnf("Gave up waiting for pending store writes: %v", ctx.Err())
	}
	return err
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
