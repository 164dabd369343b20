package api

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
	"github.com/sqrtlabs/dca-webapp/internal/store"
)

func (s *Server) invest(c *gin.Context) {
	planHash := c.Param("planhash")
	if planHash == "" {
		fail(c, apperr.New(apperr.KindBadRequest, "missing plan hash"))
		return
	}

	res, err := s.runner.ExecutePlan(c.Request.Context(), planHash)
	if err != nil {
		s.log.Warn("plan execution failed",
			zap.String("plan_hash", planHash),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"txHash":              res.TxHash.Hex(),
		"amountOut":           res.AmountOut.String(),
		"feeAmount":           res.FeeAmount.String(),
		"needsReconciliation": res.NeedsReconciliation,
	})
}

type createPlanRequest struct {
	UserAddress     string `json:"userAddress"`
	TokenOutAddress string `json:"tokenOutAddress"`
	Recipient       string `json:"recipient"`
	AmountIn        string `json:"amountIn"`
	Frequency       int64  `json:"frequency"`
}

func (s *Server) createPlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Wrap(apperr.KindBadRequest, "invalid request body", err))
		return
	}
	for _, pair := range [][2]string{
		{"userAddress", req.UserAddress},
		{"tokenOutAddress", req.TokenOutAddress},
		{"recipient", req.Recipient},
		{"amountIn", req.AmountIn},
	} {
		if pair[1] == "" {
			fail(c, apperr.New(apperr.KindBadRequest, "missing required field: "+pair[0]))
			return
		}
	}
	if !common.IsHexAddress(req.UserAddress) || !common.IsHexAddress(req.TokenOutAddress) || !common.IsHexAddress(req.Recipient) {
		fail(c, apperr.New(apperr.KindBadRequest, "invalid address"))
		return
	}
	amountIn, ok := new(big.Int).SetString(req.AmountIn, 10)
	if !ok || amountIn.Sign() <= 0 {
		fail(c, apperr.New(apperr.KindBadRequest, "amountIn must be a positive integer string"))
		return
	}
	if req.Frequency <= 0 {
		fail(c, apperr.New(apperr.KindBadRequest, "frequency must be positive"))
		return
	}

	ctx := c.Request.Context()
	if _, err := s.store.TokenByAddress(ctx, req.TokenOutAddress); err != nil {
		if apperr.KindOf(err) == apperr.KindStorageIntegrityError {
			fail(c, apperr.New(apperr.KindPlanNotFound, "token out not found"))
			return
		}
		fail(c, err)
		return
	}

	planHash := store.ComputePlanHash(
		common.HexToAddress(req.TokenOutAddress), common.HexToAddress(req.Recipient))

	plan := store.Plan{
		PlanHash:         planHash,
		UserWallet:       req.UserAddress,
		TokenOutAddress:  req.TokenOutAddress,
		Recipient:        req.Recipient,
		AmountIn:         amountIn,
		FrequencySeconds: req.Frequency,
	}

	// The hash is stable per (tokenOut, recipient), so an earlier plan may
	// still hold the row: a soft-deleted one is taken over as a fresh
	// create, an inactive one is resurrected with the new terms.
	existing, err := s.store.PlanByHash(ctx, planHash)
	switch {
	case err == nil && existing.DeletedAt != 0:
		if err := s.store.RecreatePlan(ctx, plan); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"planHash": planHash,
		})
		return
	case err == nil && !existing.Active:
		if err := s.store.ReactivatePlan(ctx, planHash, amountIn, req.Frequency); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"planHash":    planHash,
			"reactivated": true,
		})
		return
	case err == nil && existing.Active:
		fail(c, apperr.New(apperr.KindBadRequest, "active plan already exists for this token"))
		return
	case err != nil && apperr.KindOf(err) != apperr.KindPlanNotFound:
		fail(c, err)
		return
	}

	if err := s.store.CreatePlan(ctx, plan); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"planHash": planHash,
	})
}

type togglePlanRequest struct {
	UserAddress     string `json:"userAddress"`
	TokenOutAddress string `json:"tokenOutAddress"`
	Active          *bool  `json:"active"`
}

func (s *Server) togglePlan(c *gin.Context) {
	var req togglePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Wrap(apperr.KindBadRequest, "invalid request body", err))
		return
	}
	if req.UserAddress == "" || req.TokenOutAddress == "" || req.Active == nil {
		fail(c, apperr.New(apperr.KindBadRequest, "missing required fields: userAddress, tokenOutAddress, active"))
		return
	}

	ctx := c.Request.Context()
	plan, err := s.store.FindPlan(ctx, req.UserAddress, req.TokenOutAddress)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.store.SetActive(ctx, plan.PlanHash, *req.Active); err != nil {
		fail(c, err)
		return
	}
	message := "plan paused"
	if *req.Active {
		message = "plan activated"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  message,
		"planHash": plan.PlanHash,
		"active":   *req.Active,
	})
}

type deletePlanRequest struct {
	UserAddress     string `json:"userAddress"`
	TokenOutAddress string `json:"tokenOutAddress"`
	// Action is "stop" (deactivate, keep history visible) or "delete"
	// (soft-delete the plan; executions are preserved either way).
	Action string `json:"action"`
}

func (s *Server) deletePlan(c *gin.Context) {
	var req deletePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Wrap(apperr.KindBadRequest, "invalid request body", err))
		return
	}
	if req.UserAddress == "" || req.TokenOutAddress == "" {
		fail(c, apperr.New(apperr.KindBadRequest, "missing required fields: userAddress, tokenOutAddress"))
		return
	}

	ctx := c.Request.Context()
	plan, err := s.store.FindPlan(ctx, req.UserAddress, req.TokenOutAddress)
	if err != nil {
		fail(c, err)
		return
	}

	if req.Action != "delete" {
		if !plan.Active {
			fail(c, apperr.New(apperr.KindPlanNotFound, "no active plan found for this token"))
			return
		}
		if err := s.store.SetActive(ctx, plan.PlanHash, false); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"message":  "plan stopped",
			"planHash": plan.PlanHash,
		})
		return
	}

	if err := s.store.SoftDeletePlan(ctx, plan.PlanHash); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "plan deleted",
		"planHash": plan.PlanHash,
	})
}

func (s *Server) userPlans(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		fail(c, apperr.New(apperr.KindBadRequest, "invalid wallet address"))
		return
	}
	plans, err := s.store.PlansByUser(c.Request.Context(), address)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(plans))
	for _, p := range plans {
		out = append(out, gin.H{
			"planHash":        p.PlanHash,
			"tokenOutAddress": p.TokenOutAddress,
			"recipient":       p.Recipient,
			"amountIn":        p.AmountIn.String(),
			"frequency":       p.FrequencySeconds,
			"lastExecutedAt":  p.LastExecutedAt,
			"active":          p.Active,
			"createdAt":       p.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "plans": out})
}

func (s *Server) executionHistory(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		fail(c, apperr.New(apperr.KindBadRequest, "invalid wallet address"))
		return
	}

	filter := store.HistoryFilter{Token: c.Query("token")}
	if date := c.Query("date"); date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			fail(c, apperr.New(apperr.KindBadRequest, "date must be YYYY-MM-DD"))
			return
		}
		filter.DayStart = day.UTC().Unix()
		filter.DayEnd = day.UTC().Add(24 * time.Hour).Unix()
	}

	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	execs, total, err := s.store.ExecutionHistory(c.Request.Context(), address, filter)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(execs))
	for _, e := range execs {
		out = append(out, gin.H{
			"txHash":              e.TxHash,
			"planHash":            e.PlanHash,
			"amountIn":            e.AmountIn.String(),
			"amountOut":           e.AmountOut.String(),
			"feeAmount":           e.FeeAmount.String(),
			"tokenOutAddress":     e.TokenOutAddress,
			"executedAt":          e.ExecutedAt,
			"needsReconciliation": e.NeedsReconciliation,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"executions": out,
		"pagination": gin.H{
			"page":       page,
			"limit":      limit,
			"totalCount": total,
			"totalPages": (total + limit - 1) / limit,
		},
	})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
