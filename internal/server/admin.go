package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DilaverShtini/nomi-cose-citta/internal/types"
)

// adminAPI serves read-only operational endpoints next to the game port.
type adminAPI struct {
	srv *http.Server
}

func newAdminAPI(s *Server) *adminAPI {
	if !s.cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "nomi-cose-citta",
		})
	})

	r.GET("/api/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, types.ServerStats{
			ConnectedClients: s.registry.Count(),
			JoinedPlayers:    len(s.registry.Usernames()),
			Phase:            s.room.Phase(),
			Round:            s.room.Round(),
			DroppedFrames:    s.registry.Dropped(),
		})
	})

	r.GET("/api/players", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"players": s.registry.Usernames(),
			"peers":   s.registry.PeerMap(),
		})
	})

	r.GET("/api/room", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"phase":  s.room.Phase(),
			"round":  s.room.Round(),
			"roster": s.room.Roster(),
		})
	})

	return &adminAPI{srv: &http.Server{Handler: r}}
}

func (a *adminAPI) start(addr string) error {
	a.srv.Addr = addr
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ADMIN] server failed: %v", err)
		}
	}()
	log.Printf("[ADMIN] api on %s", addr)
	return nil
}

func (a *adminAPI) stop(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}
