package statusapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"rovernet/internal/health"
	"rovernet/internal/obs"
	"rovernet/internal/stream"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
)

// Source gathers what the endpoints report. Nil fields are left out.
type Source struct {
	Node    string
	Session string
	Started time.Time
	Metrics *obs.Metrics
	Links   []*health.LinkMonitor
	Streams func() []stream.Status
}

// Status is the body of GET /status.
type Status struct {
	Node    string            `json:"node"`
	Session string            `json:"session"`
	Time    time.Time         `json:"time"`
	Uptime  string            `json:"uptime"`
	Links   []health.Snapshot `json:"links"`
	Metrics obs.Snapshot      `json:"metrics"`
	Streams []stream.Status   `json:"streams,omitempty"`
}

func (s Source) status(now time.Time) Status {
	st := Status{
		Node:    s.Node,
		Session: s.Session,
		Time:    now.UTC(),
		Metrics: s.Metrics.Snapshot(),
		Links:   make([]health.Snapshot, 0, len(s.Links)),
	}
	if !s.Started.IsZero() {
		st.Uptime = now.Sub(s.Started).Truncate(time.Second).String()
	}
	for _, l := range s.Links {
		if l != nil {
			st.Links = append(st.Links, l.Snapshot())
		}
	}
	if s.Streams != nil {
		st.Streams = s.Streams()
	}
	return st
}

// Register mounts the endpoints on r.
func Register(r gin.IRouter, src Source) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": src.Node})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.status(time.Now()))
	})
}

// Run serves the endpoints on addr until ctx is done.
func Run(ctx context.Context, addr string, src Source) error {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard
	router, err := graceful.Default(graceful.WithAddr(addr))
	if err != nil {
		return err
	}
	Register(router, src)
	return router.RunWithContext(ctx)
}
