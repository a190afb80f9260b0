package students

import (
	"github.com/gin-gonic/gin"

	"dugsi-admin/core"
	"dugsi-admin/revalidate"
)

type Handler struct {
	svc   *Service
	cache *revalidate.Cache
}

func NewHandler(svc *Service, cache *revalidate.Cache) *Handler {
	return &Handler{svc: svc, cache: cache}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/registrations", h.cache.Page(revalidate.PageRegistrations), h.listRegistrations)
	r.GET("/registrations/:id", h.cache.Page(revalidate.PageRegistrations), h.getRegistration)
	r.GET("/families", h.cache.Page(revalidate.PageFamilies), h.listFamilies)
	r.GET("/students/:id/family", h.cache.Page(revalidate.PageFamilies), h.getFamily)
	r.PATCH("/students/:id", h.updateStudent)
	r.DELETE("/students/:id/family", h.deleteFamily)
	r.POST("/families/:familyId/withdraw-all", h.withdrawAll)
}

func filterFrom(c *gin.Context) Filter {
	return Filter{Status: Status(c.Query("status")), Search: c.Query("q")}
}

func (h *Handler) listRegistrations(c *gin.Context) {
	regs, err := h.svc.ListRegistrations(c.Request.Context(), filterFrom(c))
	if err != nil {
		core.RespondError(c, "REGISTRATIONS", err)
		return
	}
	core.Respond(c, core.OK(regs, ""))
}

func (h *Handler) getRegistration(c *gin.Context) {
	reg, err := h.svc.GetRegistration(c.Request.Context(), c.Param("id"))
	if err != nil {
		core.RespondError(c, "REGISTRATIONS", err)
		return
	}
	core.Respond(c, core.OK(reg, ""))
}

func (h *Handler) listFamilies(c *gin.Context) {
	families, err := h.svc.ListFamilies(c.Request.Context(), filterFrom(c))
	if err != nil {
		core.RespondError(c, "FAMILIES", err)
		return
	}
	core.Respond(c, core.OK(families, ""))
}

func (h *Handler) getFamily(c *gin.Context) {
	family, err := h.svc.GetFamily(c.Request.Context(), c.Param("id"))
	if err != nil {
		core.RespondError(c, "FAMILIES", err)
		return
	}
	core.Respond(c, core.OK(family, ""))
}

func (h *Handler) updateStudent(c *gin.Context) {
	var upd StudentUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		core.RespondError(c, "STUDENT_UPDATE", core.Invalid("invalid request body"))
		return
	}
	reg, err := h.svc.UpdateStudent(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		core.RespondError(c, "STUDENT_UPDATE", err)
		return
	}
	h.cache.Invalidate(revalidate.PageRegistrations, revalidate.PageFamilies)
	core.Respond(c, core.OK(reg, "Student updated"))
}

func (h *Handler) deleteFamily(c *gin.Context) {
	res, err := h.svc.DeleteFamily(c.Request.Context(), c.Param("id"))
	if err != nil {
		core.RespondError(c, "FAMILY_DELETE", err)
		return
	}
	h.cache.Invalidate(revalidate.PageRegistrations, revalidate.PageFamilies, revalidate.PageClasses)
	core.Respond(c, core.OK(res, "Family deleted"))
}

func (h *Handler) withdrawAll(c *gin.Context) {
	var in WithdrawAllInput
	if err := c.ShouldBindJSON(&in); err != nil {
		core.RespondError(c, "FAMILY_WITHDRAW", core.Invalid("invalid request body"))
		return
	}
	res, err := h.svc.WithdrawAllChildren(c.Request.Context(), c.Param("familyId"), in)
	if err != nil {
		core.RespondError(c, "FAMILY_WITHDRAW", err)
		return
	}
	h.cache.Invalidate(revalidate.PageRegistrations, revalidate.PageFamilies)
	core.Respond(c, core.OK(res, "All children withdrawn"))
}
