package handlers

import (
	"askable/pkg/response"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var registerOnce sync.Once

// RegisterValidators 注册自定义校验标签
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
			parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
			_, err := parser.Parse(fl.Field().String())
			return err == nil
		})
	})
}

// bindJSON 绑定请求体，校验失败时直接返回 400
func bindJSON(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	if validationErr, ok := err.(validator.ValidationErrors); ok {
		// 只返回第一个错误
		fieldErr := validationErr[0]
		var msg string
		switch fieldErr.Tag() {
		case "required":
			msg = fmt.Sprintf("字段 %s 不能为空", fieldErr.Field())
		case "max":
			msg = fmt.Sprintf("字段 %s 长度不能超过 %s", fieldErr.Field(), fieldErr.Param())
		case "cron":
			msg = "无效的cron表达式"
		default:
			msg = fmt.Sprintf("字段 %s 验证失败", fieldErr.Field())
		}
		response.BadRequest(c, msg)
		return false
	}

	response.BadRequest(c, "请求参数格式错误: "+err.Error())
	return false
}
