package api

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sqrtlabs/dca-webapp/internal/engine"
	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
	"github.com/sqrtlabs/dca-webapp/internal/store"
)

// PlanRunner runs one plan execution. *engine.Engine satisfies it.
type PlanRunner interface {
	ExecutePlan(ctx context.Context, planHash string) (engine.Result, error)
}

// PlanStore is the slice of the store the API serves reads and CRUD from.
type PlanStore interface {
	PlanByHash(ctx context.Context, planHash string) (store.Plan, error)
	PlansByUser(ctx context.Context, userWallet string) ([]store.Plan, error)
	FindPlan(ctx context.Context, userWallet, tokenOut string) (store.Plan, error)
	CreatePlan(ctx context.Context, p store.Plan) error
	RecreatePlan(ctx context.Context, p store.Plan) error
	ReactivatePlan(ctx context.Context, planHash string, amountIn *big.Int, frequencySeconds int64) error
	SetActive(ctx context.Context, planHash string, active bool) error
	SoftDeletePlan(ctx context.Context, planHash string) error
	TokenByAddress(ctx context.Context, address string) (store.Token, error)
	ExecutionHistory(ctx context.Context, userWallet string, f store.HistoryFilter) ([]store.Execution, int, error)
}

// Server exposes the engine and plan store over HTTP.
type Server struct {
	runner PlanRunner
	store  PlanStore
	log    *zap.Logger
}

func NewServer(runner PlanRunner, st PlanStore, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{runner: runner, store: st, log: log}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.health)

	apiGroup := r.Group("/api")
	apiGroup.POST("/invest/:planhash", s.invest)
	apiGroup.POST("/plan", s.createPlan)
	apiGroup.POST("/plan/toggle", s.togglePlan)
	apiGroup.POST("/plan/delete", s.deletePlan)
	apiGroup.GET("/plan/:address", s.userPlans)
	apiGroup.GET("/execution/history/:address", s.executionHistory)
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail writes the error envelope, mapping the error kind to a status code.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.JSON(kind.HTTPStatus(), gin.H{
		"success":   false,
		"error":     err.Error(),
		"errorKind": string(kind),
		"retryable": kind.Retryable(),
	})
}
