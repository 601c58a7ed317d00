package handlers

import (
	"askable/internal/models"
	"askable/internal/services"
	"askable/pkg/pagination"
	"askable/pkg/response"

	"github.com/gin-gonic/gin"
)

// RunHandler 执行处理器
type RunHandler struct {
	runService *services.RunService
}

// NewRunHandler 创建执行处理器
func NewRunHandler(runService *services.RunService) *RunHandler {
	return &RunHandler{runService: runService}
}

// Create 生成执行计划并入队
func (h *RunHandler) Create(c *gin.Context) {
	var req services.RunRequest
	if !bindJSON(c, &req) {
		return
	}

	run, err := h.runService.Submit(c.Request.Context(), req, models.RunSourceAPI, nil)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessWithMessage(c, "执行已提交", gin.H{
		"run_id":       run.RunID,
		"mode":         run.Mode,
		"status":       run.Status,
		"module_count": run.ModuleCount,
	})
}

// List 获取执行列表
func (h *RunHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	runs, total, err := h.runService.List(params, c.Query("status"))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.SuccessWithPage(c, runs, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Get 获取执行详情
func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.runService.Get(c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, run)
}

// Report 获取对账报告
func (h *RunHandler) Report(c *gin.Context) {
	report, err := h.runService.Report(c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}

// Logs 获取执行输出
func (h *RunHandler) Logs(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	logs, total, err := h.runService.Logs(c.Param("id"), params, c.Query("host"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.SuccessWithPage(c, logs, pagination.NewPageInfo(params.Page, params.PageSize, total))
}
