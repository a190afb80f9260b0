package billing

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"dugsi-admin/core"
	"dugsi-admin/revalidate"
)

type Handler struct {
	svc     *Service
	webhook *WebhookProcessor
	cache   *revalidate.Cache
}

func NewHandler(svc *Service, webhook *WebhookProcessor, cache *revalidate.Cache) *Handler {
	return &Handler{svc: svc, webhook: webhook, cache: cache}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/students/:id/withdraw-preview", h.withdrawPreview)
	r.POST("/students/:id/withdraw", h.withdraw)
	r.POST("/students/:id/re-enroll", h.reEnroll)
	r.POST("/consolidation/preview", h.previewConsolidation)
	r.POST("/consolidation", h.consolidate)
	r.POST("/bank-verification", h.verifyBank)
}

// RegisterWebhook mounts the provider callback, which must stay outside admin auth.
func (h *Handler) RegisterWebhook(r gin.IRouter) {
	r.POST("/webhooks/stripe", h.handleWebhook)
}

func bind(c *gin.Context, tag string, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		core.RespondError(c, tag, core.Invalid("invalid request body"))
		return false
	}
	return true
}

func (h *Handler) withdrawPreview(c *gin.Context) {
	preview, err := h.svc.GetWithdrawPreview(c.Request.Context(), c.Param("id"))
	if err != nil {
		core.RespondError(c, "WITHDRAW_PREVIEW", err)
		return
	}
	core.Respond(c, core.OK(preview, ""))
}

func (h *Handler) withdraw(c *gin.Context) {
	var in WithdrawInput
	if !bind(c, "WITHDRAW", &in) {
		return
	}
	in.StudentID = c.Param("id")
	res, err := h.svc.WithdrawChild(c.Request.Context(), in)
	if err != nil {
		core.RespondError(c, "WITHDRAW", err)
		return
	}
	h.cache.Invalidate(revalidate.PageRegistrations, revalidate.PageFamilies)
	core.Respond(c, core.OK(res, res.Describe("withdrawn")).WithWarning(res.Warning))
}

func (h *Handler) reEnroll(c *gin.Context) {
	var in ReEnrollInput
	if !bind(c, "RE_ENROLL", &in) {
		return
	}
	in.StudentID = c.Param("id")
	res, err := h.svc.ReEnrollChild(c.Request.Context(), in)
	if err != nil {
		core.RespondError(c, "RE_ENROLL", err)
		return
	}
	h.cache.Invalidate(revalidate.PageRegistrations, revalidate.PageFamilies)
	core.Respond(c, core.OK(res, res.Describe("re-enrolled")).WithWarning(res.Warning))
}

func (h *Handler) previewConsolidation(c *gin.Context) {
	var req ConsolidationRequest
	if !bind(c, "CONSOLIDATE", &req) {
		return
	}
	preview, err := h.svc.PreviewConsolidation(c.Request.Context(), req)
	if err != nil {
		core.RespondError(c, "CONSOLIDATE", err)
		return
	}
	core.Respond(c, core.OK(preview, ""))
}

func (h *Handler) consolidate(c *gin.Context) {
	var in ConsolidateInput
	if !bind(c, "CONSOLIDATE", &in) {
		return
	}
	res, err := h.svc.Consolidate(c.Request.Context(), in)
	if err != nil {
		core.RespondError(c, "CONSOLIDATE", err)
		return
	}
	h.cache.Invalidate(revalidate.PageRegistrations, revalidate.PageFamilies)
	core.Respond(c, core.OK(res, "Subscription linked to family").WithWarning(res.Warning))
}

func (h *Handler) verifyBank(c *gin.Context) {
	var in VerifyBankInput
	if !bind(c, "BANK_VERIFY", &in) {
		return
	}
	res, err := h.svc.VerifyBankAccount(c.Request.Context(), in)
	if err != nil {
		core.RespondError(c, "BANK_VERIFY", err)
		return
	}
	core.Respond(c, core.OK(res, "Bank account verified successfully"))
}

func (h *Handler) handleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	changed, err := h.webhook.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		core.RespondError(c, "WEBHOOK", err)
		return
	}
	if changed {
		h.cache.Invalidate(revalidate.PageRegistrations, revalidate.PageFamilies)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
