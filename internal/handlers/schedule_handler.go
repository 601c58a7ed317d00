package handlers

import (
	"askable/internal/services"
	"askable/pkg/pagination"
	"askable/pkg/response"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ScheduleHandler 定时执行处理器
type ScheduleHandler struct {
	scheduleService *services.ScheduleService
}

// NewScheduleHandler 创建定时执行处理器
func NewScheduleHandler(scheduleService *services.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{scheduleService: scheduleService}
}

// Create 创建定时执行
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req services.CreateScheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	schedule, err := h.scheduleService.Create(&req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "创建成功", schedule)
}

// List 获取定时执行列表
func (h *ScheduleHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	schedules, total, err := h.scheduleService.List(params)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.SuccessWithPage(c, schedules, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Delete 删除定时执行
func (h *ScheduleHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.scheduleService.Delete(id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// Enable 启用定时执行
func (h *ScheduleHandler) Enable(c *gin.Context) {
	h.setActive(c, true)
}

// Disable 禁用定时执行
func (h *ScheduleHandler) Disable(c *gin.Context) {
	h.setActive(c, false)
}

func (h *ScheduleHandler) setActive(c *gin.Context, active bool) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.scheduleService.SetActive(id, active); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "更新成功", nil)
}

// Trigger 立即执行一次
func (h *ScheduleHandler) Trigger(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	run, err := h.scheduleService.Trigger(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "执行已提交", gin.H{"run_id": run.RunID})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的ID")
		return 0, false
	}
	return uint(id), true
}
