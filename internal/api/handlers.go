package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cart-safety-engine/internal/domain"
	"github.com/cart-safety-engine/internal/service"
	"github.com/cart-safety-engine/internal/signal"
)

// handleMethods lists the registered estimator methods.
func (s *Server) handleMethods(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"methods":        s.service.Methods(),
		"config_version": s.service.ConfigVersion(),
	})
}

// handleEstimate dispatches a risk estimation request.
func (s *Server) handleEstimate(c *gin.Context) {
	var req service.EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", "malformed request body", err.Error()))
		return
	}

	estimate, err := s.service.EstimateRisk(req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

// handleAccrual tracks the posterior across an enrolment sequence.
func (s *Server) handleAccrual(c *gin.Context) {
	var req service.AccrualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", "malformed request body", err.Error()))
		return
	}

	points, err := s.service.EvidenceAccrual(req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

// handleBoundary tabulates a Bayesian stopping boundary.
func (s *Server) handleBoundary(c *gin.Context) {
	var req service.BoundaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", "malformed request body", err.Error()))
		return
	}

	steps, err := s.service.StoppingBoundary(req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boundary": steps})
}

// handleDetectSignal screens one product-reaction pair.
func (s *Server) handleDetectSignal(c *gin.Context) {
	var req signal.DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", "malformed request body", err.Error()))
		return
	}

	result, err := s.service.DetectSignal(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleCalibrate fits the disproportionality prior over a panel.
func (s *Server) handleCalibrate(c *gin.Context) {
	var req struct {
		Panel []signal.DrugEventPair `json:"panel"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", "malformed request body", err.Error()))
		return
	}

	if err := s.service.CalibrateDetector(c.Request.Context(), req.Panel); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "calibrated", "pairs": len(req.Panel)})
}

// handleCombine folds mitigation strategies into a residual risk.
func (s *Server) handleCombine(c *gin.Context) {
	var req service.CombineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", "malformed request body", err.Error()))
		return
	}

	result, err := s.service.CombineMitigations(req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeError maps the failure taxonomy onto HTTP statuses: rejected input
// is 400, impossible data 422, an unreachable reporting source 503, an
// exhausted request budget 429, anything else 500.
func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")

	status := http.StatusInternalServerError
	code := domain.ErrInternalServer

	var engineErr *domain.EngineError
	switch {
	case domain.IsValidationError(err):
		status = http.StatusBadRequest
		code = domain.ErrInvalidInput
	case domain.IsDataInconsistency(err):
		status = http.StatusUnprocessableEntity
		code = domain.ErrInconsistency
	case domain.IsUnavailable(err):
		status = http.StatusServiceUnavailable
		code = domain.ErrUnavailable
	case errors.As(err, &engineErr):
		code = engineErr.Code
		switch engineErr.Code {
		case domain.ErrRateLimit:
			status = http.StatusTooManyRequests
		case domain.ErrExternalAPI:
			status = http.StatusBadGateway
		case domain.ErrNumericalDegrade, domain.ErrEstimation:
			status = http.StatusUnprocessableEntity
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"request_id": requestID,
		}).Error("Request failed")
	}

	c.JSON(status, gin.H{
		"error":      err.Error(),
		"code":       code,
		"request_id": requestID,
	})
}
