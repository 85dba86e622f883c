// internal/handler/fiscal_handler.go
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fdm-service/internal/model"
	"fdm-service/internal/repository"
	"fdm-service/internal/service"
	"fdm-service/internal/utils"
)

// FiscalHandler handles fiscal signing HTTP requests
type FiscalHandler struct {
	fiscalService *service.FiscalService
	logger        *utils.ServiceLogger
}

// NewFiscalHandler creates a new fiscal handler
func NewFiscalHandler(fiscalService *service.FiscalService, logger *zap.Logger) *FiscalHandler {
	return &FiscalHandler{
		fiscalService: fiscalService,
		logger:        utils.NewServiceLogger(logger, "fiscal-handler"),
	}
}

// RegisterRoutes registers fiscal routes
func (h *FiscalHandler) RegisterRoutes(router *gin.RouterGroup) {
	fiscal := router.Group("/fiscal")
	{
		fiscal.POST("/identify", h.Identify)
		fiscal.POST("/pin", h.VerifyPin)
		fiscal.POST("/sign", h.SignOrder)
		fiscal.GET("/receipts", h.ListReceipts)
		fiscal.GET("/receipts/:ticket_number", h.GetReceipt)
		fiscal.GET("/chain/verify", h.VerifyChain)
		fiscal.GET("/terminal", h.GetTerminalState)
	}
}

// PinRequest carries the operator's signing card PIN.
type PinRequest struct {
	Pin string `json:"pin" binding:"required"`
}

// Identify probes the fiscal data module
// @Summary Identify fiscal data module
// @Description Probe the connected fiscal data module and return its identity
// @Tags Fiscal
// @Produce json
// @Success 200 {object} utils.APIResponse "Module identified"
// @Failure 503 {object} utils.APIResponse "Module unreachable"
// @Router /fiscal/identify [post]
func (h *FiscalHandler) Identify(c *gin.Context) {
	resp, err := h.fiscalService.Identify(c.Request.Context())
	if err != nil {
		h.logger.Error("Identification failed", zap.Error(err))
		utils.FiscalErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Fiscal data module identified", resp)
}

// VerifyPin forwards the operator PIN to the signing card
// @Summary Verify signing card PIN
// @Tags Fiscal
// @Accept json
// @Produce json
// @Param request body PinRequest true "PIN request"
// @Success 200 {object} utils.APIResponse "PIN accepted"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 422 {object} utils.APIResponse "PIN rejected"
// @Router /fiscal/pin [post]
func (h *FiscalHandler) VerifyPin(c *gin.Context) {
	var req PinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	resp, err := h.fiscalService.VerifyPin(c.Request.Context(), req.Pin)
	if err != nil {
		h.logger.Error("PIN verification failed", zap.Error(err))
		utils.FiscalErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "PIN accepted", resp)
}

// SignOrder signs an order through the fiscal data module
// @Summary Sign an order
// @Description Hash the order lines, submit them for signing and journal the receipt
// @Tags Fiscal
// @Accept json
// @Produce json
// @Param request body model.Order true "Order to sign"
// @Success 200 {object} utils.APIResponse "Order signed"
// @Failure 400 {object} utils.APIResponse "Invalid order"
// @Failure 422 {object} utils.APIResponse "Module rejected the request"
// @Failure 503 {object} utils.APIResponse "Module unreachable"
// @Router /fiscal/sign [post]
func (h *FiscalHandler) SignOrder(c *gin.Context) {
	var order model.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	receipt, err := h.fiscalService.SignOrder(c.Request.Context(), &order)
	if err != nil {
		h.logger.Error("Signing failed",
			zap.Error(err),
			zap.String("order_id", order.ID.String()),
		)
		utils.FiscalErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Order signed", gin.H{
		"order":   order,
		"receipt": receipt,
	})
}

// ListReceipts lists journaled receipts
// @Summary List fiscal receipts
// @Tags Fiscal
// @Produce json
// @Param event_label query string false "Filter by event label (NS or PS)"
// @Param start_date query string false "Filter from date (RFC 3339)"
// @Param end_date query string false "Filter to date (RFC 3339)"
// @Param page query int false "Page number"
// @Param per_page query int false "Page size"
// @Success 200 {object} utils.APIResponse "Receipts"
// @Router /fiscal/receipts [get]
func (h *FiscalHandler) ListReceipts(c *gin.Context) {
	filter, err := h.buildReceiptFilter(c)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	receipts, total, err := h.fiscalService.ListReceipts(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list receipts", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list receipts", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Receipts retrieved", gin.H{
		"receipts": receipts,
		"total":    total,
		"page":     filter.Page,
		"per_page": filter.PerPage,
	})
}

// GetReceipt returns one journaled receipt by ticket number
// @Summary Get a fiscal receipt
// @Tags Fiscal
// @Produce json
// @Param ticket_number path int true "Ticket number"
// @Success 200 {object} utils.APIResponse "Receipt"
// @Failure 404 {object} utils.APIResponse "Receipt not found"
// @Router /fiscal/receipts/{ticket_number} [get]
func (h *FiscalHandler) GetReceipt(c *gin.Context) {
	ticketNumber, err := strconv.Atoi(c.Param("ticket_number"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid ticket number", err)
		return
	}

	receipt, err := h.fiscalService.GetReceipt(c.Request.Context(), h.terminalID(c), ticketNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Receipt not found", err)
			return
		}
		h.logger.Error("Failed to get receipt", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get receipt", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Receipt retrieved", receipt)
}

// VerifyChain replays the receipt journal against the stored chain head
// @Summary Verify the hash chain
// @Tags Fiscal
// @Produce json
// @Success 200 {object} utils.APIResponse "Chain report"
// @Router /fiscal/chain/verify [get]
func (h *FiscalHandler) VerifyChain(c *gin.Context) {
	report, err := h.fiscalService.VerifyChain(c.Request.Context(), h.terminalID(c))
	if err != nil {
		h.logger.Error("Chain verification failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Chain verification failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Chain verified", report)
}

// GetTerminalState returns the terminal's protocol counters
// @Summary Get terminal state
// @Tags Fiscal
// @Produce json
// @Success 200 {object} utils.APIResponse "Terminal state"
// @Router /fiscal/terminal [get]
func (h *FiscalHandler) GetTerminalState(c *gin.Context) {
	state, err := h.fiscalService.TerminalState(c.Request.Context(), h.terminalID(c))
	if err != nil {
		h.logger.Error("Failed to get terminal state", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get terminal state", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Terminal state retrieved", state)
}

// terminalID resolves the terminal for a request. A single service
// instance serves one terminal; the query parameter exists for reporting
// against historical terminal IDs.
func (h *FiscalHandler) terminalID(c *gin.Context) string {
	if id := c.Query("terminal_id"); id != "" {
		return id
	}
	return h.fiscalService.ConfiguredTerminalID()
}

func (h *FiscalHandler) buildReceiptFilter(c *gin.Context) (*repository.ReceiptFilter, error) {
	terminalID := h.terminalID(c)
	filter := &repository.ReceiptFilter{
		TerminalID: &terminalID,
	}

	if label := c.Query("event_label"); label != "" {
		if label != "NS" && label != "PS" {
			return nil, errors.New("event_label must be NS or PS")
		}
		filter.EventLabel = &label
	}

	if raw := c.Query("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		filter.StartDate = &t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		filter.EndDate = &t
	}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		filter.Page = page
	}
	if raw := c.Query("per_page"); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		filter.PerPage = perPage
	}

	return filter, nil
}
