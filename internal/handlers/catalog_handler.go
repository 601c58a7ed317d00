package handlers

import (
	"askable/internal/catalog"
	"askable/internal/planner"
	"askable/pkg/response"

	"github.com/gin-gonic/gin"
)

// CatalogHandler 检查项目录处理器
type CatalogHandler struct {
	catalog *catalog.Catalog
}

// NewCatalogHandler 创建目录处理器
func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: cat}
}

// Tree 获取服务 -> 分类 -> 检查项 目录
func (h *CatalogHandler) Tree(c *gin.Context) {
	response.Success(c, h.catalog.Services())
}

// CountRequest 统计请求
type CountRequest struct {
	Tree planner.SelectionTree `json:"tree" binding:"required"`
}

// Count 统计选择的检查项数量和对应的模块
func (h *CatalogHandler) Count(c *gin.Context) {
	var req CountRequest
	if !bindJSON(c, &req) {
		return
	}

	modules := planner.Reachable(req.Tree, h.catalog)
	response.Success(c, gin.H{
		"count":   planner.CountSelected(req.Tree, h.catalog),
		"modules": modules,
	})
}
