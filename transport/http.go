package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taraaggoun/megaphone/storage"
)

const shutdownTimeout = 5 * time.Second

// Admin serves health checks, store statistics and a JSON snapshot of the
// store over HTTP.
type Admin struct {
	server *http.Server
	store  storage.Store

	log *zap.Logger
}

func NewAdmin(options Options) *Admin {
	options = options.withDefaults()

	a := &Admin{
		store: options.Store,
		log:   options.Log,
	}

	a.server = &http.Server{
		Addr:    net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		Handler: a.setupRouter(options.Debug),
	}

	return a
}

func (a *Admin) Handler() http.Handler {
	return a.server.Handler
}

// Serve listens until ctx is done, then gives running requests a few
// seconds to finish.
func (a *Admin) Serve(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		a.log.Info("Admin HTTP listening", zap.String("addr", a.server.Addr))

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}

		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.server.SetKeepAlivesEnabled(false)

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("Http server forced to shutdown", zap.Error(err))
		return err
	}

	return nil
}

func (a *Admin) setupRouter(debug bool) *gin.Engine {
	gin.DisableConsoleColor()
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log.
	r.Use(ginzap.GinzapWithConfig(a.log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	r.Use(ginzap.RecoveryWithZap(a.log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.store.Stats())
	})

	r.GET("/state", func(c *gin.Context) {
		snapshot, err := a.store.Backup()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json; charset=utf-8", snapshot)
	})

	return r
}
