package controller

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/pulsewire/internal/auth"
	"github.com/danmuck/pulsewire/internal/observability"
	"github.com/danmuck/pulsewire/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const component = "pulse-controller"

// commands maps the route name to the control message it sends.
var commands = map[string]protocol.Message{
	"start":     protocol.Start{},
	"stop":      protocol.Stop{},
	"pause":     protocol.Pause{},
	"unpause":   protocol.Unpause{},
	"suspend":   protocol.Suspend{},
	"unsuspend": protocol.Unsuspend{},
}

// Routes builds the controller's HTTP surface.
func (s *Server) Routes() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), observability.Instrument(s.cfg.Name, s.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": component,
			"node":      s.cfg.Name,
			"protocol":  s.codec.Version().Number(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/agents", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agents": s.Agents()})
	})

	commandGroup := r.Group("/agents")
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		commandGroup.Use(auth.Require(auth.StaticToken{Token: token}))
	}
	commandGroup.POST("/:run/:command", func(c *gin.Context) {
		runID, err := strconv.ParseInt(c.Param("run"), 10, 8)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		msg, ok := commands[strings.ToLower(c.Param("command"))]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command"})
			return
		}
		if err := s.Command(int8(runID), msg); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, ErrUnknownRun) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "sent": msg.Kind().String()})
	})

	return r
}
