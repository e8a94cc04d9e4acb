package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore"
	"github.com/mamadbah2/poultrydesk/internal/service/cycles"
)

// CycleHandler exposes the cycle lifecycle.
type CycleHandler struct {
	svc         *cycles.Service
	invalidator SummaryInvalidator
	logger      *zap.Logger
}

// NewCycleHandler constructs the cycle endpoints.
func NewCycleHandler(svc *cycles.Service, invalidator SummaryInvalidator, logger *zap.Logger) *CycleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CycleHandler{svc: svc, invalidator: invalidator, logger: logger}
}

type startCycleRequest struct {
	FarmerID  string  `json:"farmerId"`
	Name      string  `json:"name" binding:"required"`
	DOC       int     `json:"doc" binding:"required"`
	Age       int     `json:"age"`
	InputFeed float64 `json:"inputFeed"`
}

type mortalityRequest struct {
	Amount int    `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

type feedRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	Note   string  `json:"note"`
}

// Start creates a cycle and seeds its first accrual.
func (h *CycleHandler) Start(c *gin.Context) {
	var req startCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Age == 0 {
		req.Age = 1
	}

	cycle, seeded, err := h.svc.StartCycle(c.Request.Context(), userID(c), cycles.StartCycleInput{
		FarmerID:  req.FarmerID,
		Name:      req.Name,
		DOC:       req.DOC,
		Age:       req.Age,
		InputFeed: req.InputFeed,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	c.JSON(http.StatusCreated, gin.H{"cycle": cycle, "accrual": seeded})
}

// List returns a page of cycles as read models.
func (h *CycleHandler) List(c *gin.Context) {
	page, err := h.svc.ListCycles(c.Request.Context(), sqlstore.CycleQuery{
		UserID:    userID(c),
		FarmerID:  c.Query("farmerId"),
		Status:    c.DefaultQuery("status", string(models.CycleActive)),
		Search:    c.Query("search"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "pageSize", 10),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get returns a cycle with its logs and history.
func (h *CycleHandler) Get(c *gin.Context) {
	details, err := h.svc.GetDetails(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cycle":   details.Cycle,
		"logs":    nonNil(details.Logs),
		"history": details.History,
	})
}

// AddMortality records deaths.
func (h *CycleHandler) AddMortality(c *gin.Context) {
	var req mortalityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cycle, err := h.svc.AddMortality(c.Request.Context(), userID(c), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	c.JSON(http.StatusOK, cycle)
}

// AddFeed records bags delivered to a standalone cycle.
func (h *CycleHandler) AddFeed(c *gin.Context) {
	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cycle, err := h.svc.AddFeed(c.Request.Context(), userID(c), c.Param("id"), req.Amount, req.Note)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	c.JSON(http.StatusOK, cycle)
}

// End archives a cycle.
func (h *CycleHandler) End(c *gin.Context) {
	cycle, err := h.svc.EndCycle(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	c.JSON(http.StatusOK, cycle)
}

// Delete removes an archived cycle.
func (h *CycleHandler) Delete(c *gin.Context) {
	if err := h.svc.DeleteArchived(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CycleHandler) invalidate(c *gin.Context) {
	if h.invalidator != nil {
		h.invalidator.Invalidate(userID(c))
	}
}
