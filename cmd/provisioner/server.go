package main

import (
	"net/http"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/metrics"
	"github.com/Sternrassler/token-provisioner/pkg/provisioner"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type itemView struct {
	Index    int    `json:"index"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Address  string `json:"address,omitempty"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

type summaryView struct {
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	TimedOut   int        `json:"timed_out"`
	Finalized  bool       `json:"finalized"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Items      []itemView `json:"items"`
}

type runView struct {
	RunID    string       `json:"run_id"`
	Workflow string       `json:"workflow"`
	Finished bool         `json:"finished"`
	Summary  *summaryView `json:"summary,omitempty"`
}

type statusView struct {
	Running bool     `json:"running"`
	LastRun *runView `json:"last_run,omitempty"`
}

func newSummaryView(s provisioner.Summary) *summaryView {
	v := &summaryView{
		Total:      s.Total,
		Succeeded:  s.Succeeded,
		Failed:     s.Failed,
		TimedOut:   s.TimedOut,
		Finalized:  s.Finalized,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Items:      make([]itemView, 0, len(s.Items)),
	}
	if s.BatchErr != nil {
		v.Error = s.BatchErr.Error()
	}
	for _, it := range s.Items {
		iv := itemView{
			Index:    it.Index,
			Name:     it.Name,
			Symbol:   it.Symbol,
			Address:  it.Address,
			Status:   string(it.Status),
			Attempts: it.Attempts,
		}
		if it.Err != nil {
			iv.Error = it.Err.Error()
		}
		v.Items = append(v.Items, iv)
	}
	return v
}

func newRunView(run *provisioner.Run) *runView {
	v := &runView{RunID: run.ID(), Workflow: string(run.Kind())}
	if s, done := run.Summary(); done {
		v.Finished = true
		v.Summary = newSummaryView(s)
	}
	return v
}

// newRouter builds the control surface: health, metrics and workflow
// start and status routes.
func newRouter(a *app, logger zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/workflows", func(c *gin.Context) {
		view := statusView{Running: a.orch.IsRunning()}
		if run := a.orch.LastRun(); run != nil {
			view.LastRun = newRunView(run)
		}
		c.JSON(http.StatusOK, view)
	})
	router.POST("/workflows/creation", startHandler(a.startCreation))
	router.POST("/workflows/activation", startHandler(a.startActivation))

	return router
}

func startHandler(start func() (*provisioner.Run, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := start()
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "a workflow is already running"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID(), "workflow": string(run.Kind())})
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}
