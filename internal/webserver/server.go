package webserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/fundraise/pkg/funding"
)

// Run boots the HTTP facade and blocks until the context is cancelled.
func Run(ctx context.Context, cfg Config, service *funding.Service, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	handler := &httpHandler{
		logger:  logger,
		service: service,
	}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fundraise api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// The gateway webhook is authenticated upstream (shared secret at the
	// proxy); this surface trusts what it is handed.
	router.POST("/webhooks/payments", handler.handlePaymentWebhook)

	api := router.Group("/api")
	api.POST("/projects", handler.handleCreateProject)
	api.GET("/projects/:project_id", handler.handleProjectView)
	api.POST("/invoices", handler.handleCreateInvoice)
	api.GET("/invoices/:donation_id", handler.handleInvoiceStatus)
	api.GET("/ledger/summary", handler.handleLedgerSummary)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *funding.Service
}

type webhookRequest struct {
	DonationID    string `json:"donation_id"`
	ProjectID     string `json:"project_id" binding:"required"`
	AmountUnits   int64  `json:"amount_units" binding:"required"`
	DonorName     string `json:"donor_name"`
	DonorMessage  string `json:"donor_message"`
	PaymentMethod string `json:"payment_method"`
}

// handlePaymentWebhook is the single entry point for confirmed payments. A
// ledger append failure or exhausted lock retries map to retryable statuses
// so the gateway redelivers; everything else is already durably recorded.
func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	var request webhookRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	projectID, err := funding.NewProjectID(request.ProjectID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_project_id", err.Error()))
		return
	}
	amount, err := funding.NewAmountUnits(request.AmountUnits)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
		return
	}
	confirmation := funding.Confirmation{
		ProjectID:     projectID,
		Amount:        amount,
		DonorName:     funding.NewDonorName(request.DonorName),
		DonorMessage:  request.DonorMessage,
		PaymentMethod: request.PaymentMethod,
	}
	if request.DonationID != "" {
		donationID, idErr := funding.NewDonationID(request.DonationID)
		if idErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_donation_id", idErr.Error()))
			return
		}
		confirmation.DonationID = donationID
	}

	if confirmErr := handler.service.ConfirmDonation(ctx.Request.Context(), confirmation); confirmErr != nil {
		if errors.Is(confirmErr, funding.ErrLockContention) {
			ctx.JSON(http.StatusServiceUnavailable, errorResponse("lock_contention", "project busy, retry delivery"))
			return
		}
		handler.logger.Error("donation confirmation failed", zap.Error(confirmErr))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "donation not recorded, retry delivery"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

type createProjectRequest struct {
	ProjectID    string `json:"project_id" binding:"required"`
	Owner        string `json:"owner" binding:"required"`
	Title        string `json:"title"`
	TargetAmount int64  `json:"target_amount"`
}

func (handler *httpHandler) handleCreateProject(ctx *gin.Context) {
	var request createProjectRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	projectID, err := funding.NewProjectID(request.ProjectID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_project_id", err.Error()))
		return
	}
	owner, err := funding.NewOwnerID(request.Owner)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_owner", err.Error()))
		return
	}
	if createErr := handler.service.CreateProject(ctx.Request.Context(), projectID, owner, request.Title, request.TargetAmount); createErr != nil {
		if errors.Is(createErr, funding.ErrProjectExists) {
			ctx.JSON(http.StatusConflict, errorResponse("project_exists", "project id already in use"))
			return
		}
		if errors.Is(createErr, funding.ErrInvalidTargetAmount) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_target", createErr.Error()))
			return
		}
		handler.logger.Error("project creation failed", zap.Error(createErr))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "project not created"))
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"project_id": projectID.String(), "status": string(funding.ProjectStatusActive)})
}

func (handler *httpHandler) handleProjectView(ctx *gin.Context) {
	projectID, err := funding.NewProjectID(ctx.Param("project_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_project_id", err.Error()))
		return
	}
	project, location, findErr := handler.service.ProjectView(ctx.Request.Context(), projectID)
	if findErr != nil {
		if errors.Is(findErr, funding.ErrUnknownProject) {
			ctx.JSON(http.StatusNotFound, errorResponse("unknown_project", "no such project"))
			return
		}
		handler.logger.Error("project lookup failed", zap.Error(findErr))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "project unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, projectPayload{
		ProjectID:       project.ProjectID,
		Owner:           project.Owner,
		Title:           project.Title,
		TargetAmount:    project.TargetAmount,
		CurrentAmount:   project.CurrentAmount,
		SupportersCount: project.SupportersCount,
		Status:          string(project.Status),
		Location:        string(location),
		RecentDonations: project.RecentDonations,
	})
}

type createInvoiceRequest struct {
	DonationID        string `json:"donation_id" binding:"required"`
	ProjectID         string `json:"project_id" binding:"required"`
	AmountUnits       int64  `json:"amount_units" binding:"required"`
	ExternalReference string `json:"external_reference"`
}

func (handler *httpHandler) handleCreateInvoice(ctx *gin.Context) {
	var request createInvoiceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if _, err := funding.NewAmountUnits(request.AmountUnits); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
		return
	}
	invoice := funding.PendingInvoice{
		DonationID:        request.DonationID,
		ProjectID:         request.ProjectID,
		Amount:            request.AmountUnits,
		ExternalReference: request.ExternalReference,
		Status:            "pending",
	}
	if trackErr := handler.service.TrackInvoice(ctx.Request.Context(), invoice); trackErr != nil {
		if errors.Is(trackErr, funding.ErrInvoiceExists) {
			ctx.JSON(http.StatusConflict, errorResponse("invoice_exists", "donation id already tracked"))
			return
		}
		handler.logger.Error("invoice tracking failed", zap.Error(trackErr))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "invoice not tracked"))
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"donation_id": request.DonationID, "status": "pending"})
}

// handleInvoiceStatus answers pollers: a present row means the payment is
// still pending, an absent one means it was confirmed.
func (handler *httpHandler) handleInvoiceStatus(ctx *gin.Context) {
	donationID, err := funding.NewDonationID(ctx.Param("donation_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_donation_id", err.Error()))
		return
	}
	pending, statusErr := handler.service.InvoicePending(ctx.Request.Context(), donationID)
	if statusErr != nil {
		handler.logger.Error("invoice status lookup failed", zap.Error(statusErr))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "invoice status unavailable"))
		return
	}
	status := "confirmed"
	if pending {
		status = "pending"
	}
	ctx.JSON(http.StatusOK, gin.H{"donation_id": donationID.String(), "status": status})
}

func (handler *httpHandler) handleLedgerSummary(ctx *gin.Context) {
	summary, err := handler.service.LedgerSummary(ctx.Request.Context())
	if err != nil {
		handler.logger.Error("ledger summary failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_error", "summary unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"months": summary})
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type projectPayload struct {
	ProjectID       string                  `json:"project_id"`
	Owner           string                  `json:"owner"`
	Title           string                  `json:"title"`
	TargetAmount    int64                   `json:"target_amount"`
	CurrentAmount   int64                   `json:"current_amount"`
	SupportersCount int                     `json:"supporters_count"`
	Status          string                  `json:"status"`
	Location        string                  `json:"location"`
	RecentDonations []funding.DonationEntry `json:"recent_donations"`
}
