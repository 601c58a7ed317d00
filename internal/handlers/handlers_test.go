package handlers

import (
	"askable/internal/catalog"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func perform(t *testing.T, r *gin.Engine, method, path, body string) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cat := catalog.NewBuilder().
		Add("Server-Linux", "账户管理", "U-01: root 远程登录限制", "U-01_root_remote_login.yml").
		Add("Server-Linux", "账户管理", "U-02: 密码复杂度", "U-02_password_complexity.yml").
		Add("Server-Linux", "文件权限", "U-05: 未映射", "").
		Build()

	r := gin.New()
	ch := NewCatalogHandler(cat)
	ih := NewInventoryHandler()
	r.GET("/catalog", ch.Tree)
	r.POST("/catalog/count", ch.Count)
	r.POST("/inventory/parse", ih.Parse)
	return r
}

func TestCatalogTree(t *testing.T) {
	resp := perform(t, testRouter(), http.MethodGet, "/catalog", "")
	assert.Equal(t, 200, resp.Code)

	var services []catalog.Service
	require.NoError(t, json.Unmarshal(resp.Data, &services))
	require.Len(t, services, 1)
	assert.Equal(t, "Server-Linux", services[0].Name)
	assert.Equal(t, 3, services[0].Count)
}

func TestCatalogCount(t *testing.T) {
	r := testRouter()

	resp := perform(t, r, http.MethodPost, "/catalog/count", `{"tree":{"Server-Linux":{"all":true}}}`)
	require.Equal(t, 200, resp.Code)
	var out struct {
		Count   int      `json:"count"`
		Modules []string `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, 3, out.Count)
	assert.Equal(t, []string{"U-01_root_remote_login.yml", "U-02_password_complexity.yml"}, out.Modules)

	resp = perform(t, r, http.MethodPost, "/catalog/count", `{}`)
	assert.Equal(t, 400, resp.Code)
}

func TestInventoryParse(t *testing.T) {
	r := testRouter()

	body := `{"inventory":"[web]\nweb1 ansible_host=10.0.0.1 ansible_become_pass=secret services=Web-Apache\n"}`
	resp := perform(t, r, http.MethodPost, "/inventory/parse", body)
	require.Equal(t, 200, resp.Code)

	var out struct {
		Hosts []HostView `json:"hosts"`
		Total int        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Equal(t, 1, out.Total)
	assert.Equal(t, "web1", out.Hosts[0].Name)
	assert.Equal(t, "10.0.0.1", out.Hosts[0].Address)
	assert.Equal(t, "******", out.Hosts[0].Vars["ansible_become_pass"])

	resp = perform(t, r, http.MethodPost, "/inventory/parse", `{"inventory":"# empty\n"}`)
	assert.Equal(t, 400, resp.Code)
}

func TestBindJSON_CronValidator(t *testing.T) {
	RegisterValidators()
	gin.SetMode(gin.TestMode)

	type req struct {
		CronExpr string `json:"cron_expr" binding:"required,cron"`
	}
	r := gin.New()
	r.POST("/check", func(c *gin.Context) {
		var body req
		if !bindJSON(c, &body) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 200, "message": "ok"})
	})

	resp := perform(t, r, http.MethodPost, "/check", `{"cron_expr":"0 3 * * *"}`)
	assert.Equal(t, 200, resp.Code)

	resp = perform(t, r, http.MethodPost, "/check", `{"cron_expr":"every day"}`)
	assert.Equal(t, 400, resp.Code)
	assert.Equal(t, "无效的cron表达式", resp.Message)

	resp = perform(t, r, http.MethodPost, "/check", `{}`)
	assert.Equal(t, 400, resp.Code)
	assert.Equal(t, "字段 CronExpr 不能为空", resp.Message)
}

func TestMatchOrigin(t *testing.T) {
	assert.True(t, matchOrigin("http://a.example.com", "http://a.example.com"))
	assert.True(t, matchOrigin("https://ops.example.com:8443", "*.example.com"))
	assert.True(t, matchOrigin("https://example.com", "*.example.com"))
	assert.False(t, matchOrigin("https://evil.com", "*.example.com"))
	assert.False(t, matchOrigin("https://evil.com", "https://example.com"))
}
