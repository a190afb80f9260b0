package classes

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
	r.GET("/classes", h.cache.Page(revalidate.PageClasses), h.listClasses)
	r.POST("/classes", h.createClass)
	r.POST("/classes/:id/students", h.assignStudents)
	r.DELETE("/classes/:id/students/:studentId", h.removeStudent)

	r.POST("/teachers/:id/check-in", h.checkIn)
	r.POST("/check-ins/:id/check-out", h.checkOut)
	r.GET("/check-ins", h.cache.Page(revalidate.PageCheckIns), h.listCheckIns)
}

func bind(c *gin.Context, tag string, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		core.RespondError(c, tag, core.Invalid("invalid request body"))
		return false
	}
	return true
}

func (h *Handler) listClasses(c *gin.Context) {
	classes, err := h.svc.ListClasses(c.Request.Context())
	if err != nil {
		core.RespondError(c, "CLASSES", err)
		return
	}
	core.Respond(c, core.OK(classes, ""))
}

func (h *Handler) createClass(c *gin.Context) {
	var in CreateClassInput
	if !bind(c, "CLASS_CREATE", &in) {
		return
	}
	class, err := h.svc.CreateClass(c.Request.Context(), in)
	if err != nil {
		core.RespondError(c, "CLASS_CREATE", err)
		return
	}
	h.cache.Invalidate(revalidate.PageClasses)
	core.Respond(c, core.OK(class, "Class created"))
}

func (h *Handler) assignStudents(c *gin.Context) {
	var in AssignInput
	if !bind(c, "CLASS_ASSIGN", &in) {
		return
	}
	res, err := h.svc.AssignStudents(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		core.RespondError(c, "CLASS_ASSIGN", err)
		return
	}
	h.cache.Invalidate(revalidate.PageClasses, revalidate.PageRegistrations)
	core.Respond(c, core.OK(res, "Students assigned"))
}

func (h *Handler) removeStudent(c *gin.Context) {
	if err := h.svc.RemoveStudent(c.Request.Context(), c.Param("id"), c.Param("studentId")); err != nil {
		core.RespondError(c, "CLASS_REMOVE", err)
		return
	}
	h.cache.Invalidate(revalidate.PageClasses, revalidate.PageRegistrations)
	core.Respond(c, core.OK(nil, "Student removed from class"))
}

func (h *Handler) checkIn(c *gin.Context) {
	var in CheckInInput
	if !bind(c, "CHECKIN", &in) {
		return
	}
	res, err := h.svc.CheckIn(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		core.RespondError(c, "CHECKIN", err)
		return
	}
	h.cache.Invalidate(revalidate.PageCheckIns)
	msg := "Checked in"
	if res.IsLate {
		msg = "Checked in (late)"
	}
	core.Respond(c, core.OK(res, msg))
}

func (h *Handler) checkOut(c *gin.Context) {
	res, err := h.svc.CheckOut(c.Request.Context(), c.Param("id"))
	if err != nil {
		core.RespondError(c, "CHECKOUT", err)
		return
	}
	h.cache.Invalidate(revalidate.PageCheckIns)
	core.Respond(c, core.OK(res, "Checked out"))
}

func (h *Handler) listCheckIns(c *gin.Context) {
	buckets, err := h.svc.ListCheckIns(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		core.RespondError(c, "CHECKINS", err)
		return
	}
	core.Respond(c, core.OK(buckets, ""))
}
