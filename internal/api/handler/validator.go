package handler

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"section-swap/backend/internal/model"
)

// RegisterValidators 向 gin 的校验引擎注册自定义规则
//   - branch: 专业名必须在专业目录中
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("branch", func(fl validator.FieldLevel) bool {
		_, ok := model.LookupBranch(fl.Field().String())
		return ok
	})
}
