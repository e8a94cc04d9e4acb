package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore"
	"github.com/mamadbah2/poultrydesk/internal/service/cycles"
)

// FarmerHandler manages stock pools.
type FarmerHandler struct {
	svc         *cycles.Service
	invalidator SummaryInvalidator
	logger      *zap.Logger
}

// NewFarmerHandler constructs the farmer endpoints.
func NewFarmerHandler(svc *cycles.Service, invalidator SummaryInvalidator, logger *zap.Logger) *FarmerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FarmerHandler{svc: svc, invalidator: invalidator, logger: logger}
}

type createFarmerRequest struct {
	Name string `json:"name" binding:"required"`
}

type addStockRequest struct {
	Amount float64 `json:"amount" binding:"required"`
	Note   string  `json:"note"`
}

// Create registers a farmer.
func (h *FarmerHandler) Create(c *gin.Context) {
	var req createFarmerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	farmer, err := h.svc.CreateFarmer(c.Request.Context(), userID(c), req.Name)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	c.JSON(http.StatusCreated, farmer)
}

// List returns a page of farmers.
func (h *FarmerHandler) List(c *gin.Context) {
	page, err := h.svc.ListFarmers(c.Request.Context(), sqlstore.FarmerQuery{
		UserID:   userID(c),
		Search:   c.Query("search"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 10),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// AddStock adds bags to a farmer's main stock.
func (h *FarmerHandler) AddStock(c *gin.Context) {
	var req addStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	farmer, err := h.svc.AddStock(c.Request.Context(), userID(c), c.Param("id"), req.Amount, req.Note)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.invalidate(c)
	c.JSON(http.StatusOK, farmer)
}

// Logs returns the stock movements of a farmer.
func (h *FarmerHandler) Logs(c *gin.Context) {
	logs, err := h.svc.FarmerLogs(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": nonNil(logs)})
}

func (h *FarmerHandler) invalidate(c *gin.Context) {
	if h.invalidator != nil {
		h.invalidator.Invalidate(userID(c))
	}
}
