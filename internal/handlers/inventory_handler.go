package handlers

import (
	"askable/internal/inventory"
	"askable/pkg/response"
	"strings"

	"github.com/gin-gonic/gin"
)

// InventoryHandler 主机清单处理器
type InventoryHandler struct{}

// NewInventoryHandler 创建清单处理器
func NewInventoryHandler() *InventoryHandler {
	return &InventoryHandler{}
}

// ParseRequest 清单解析请求
type ParseRequest struct {
	Inventory string `json:"inventory" binding:"required"`
}

// HostView 返回给前端的主机信息，不包含密码类变量
type HostView struct {
	Name     string            `json:"name"`
	Address  string            `json:"address"`
	Group    string            `json:"group"`
	Services []string          `json:"services"`
	Vars     map[string]string `json:"vars"`
}

// Parse 解析清单文本
func (h *InventoryHandler) Parse(c *gin.Context) {
	var req ParseRequest
	if !bindJSON(c, &req) {
		return
	}

	inv, err := inventory.Parse(req.Inventory)
	if err != nil {
		response.FromError(c, err)
		return
	}

	hosts := make([]HostView, 0, len(inv.Hosts))
	for _, name := range inv.Names() {
		host, _ := inv.Get(name)
		hosts = append(hosts, HostView{
			Name:     host.Name,
			Address:  host.Address,
			Group:    host.Group,
			Services: host.Services,
			Vars:     maskSecrets(host.Vars.Map()),
		})
	}
	response.Success(c, gin.H{"hosts": hosts, "total": len(hosts)})
}

func maskSecrets(vars map[string]string) map[string]string {
	for key := range vars {
		if strings.Contains(strings.ToLower(key), "pass") {
			vars[key] = "******"
		}
	}
	return vars
}
