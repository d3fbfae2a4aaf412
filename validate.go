package sandbox

import (
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

const validateTagName = "validate"

// POSIX 环境变量名。
var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var defaultValidator = &requestValidator{}

type requestValidator struct {
	once     sync.Once
	validate *validator.Validate
}

// Validate 参数验证
func (v *requestValidator) Validate(obj interface{}) error {
	if obj == nil {
		return nil
	}
	value := reflect.ValueOf(obj)
	switch value.Kind() {
	case reflect.Ptr:
		if value.IsNil() {
			return nil
		}
		return v.Validate(value.Elem().Interface())
	case reflect.Struct:
		v.lazyInit()
		if err := v.validate.Struct(obj); err != nil {
			return fmt.Errorf("invalid request: %w", err)
		}
	}
	return nil
}

// lazyInit 延迟初始化
func (v *requestValidator) lazyInit() {
	v.once.Do(func() {
		v.validate = validator.New()
		v.validate.SetTagName(validateTagName)
		_ = v.validate.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
			return envNamePattern.MatchString(fl.Field().String())
		})
	})
}

// validateRequest 在发送请求前校验请求体。
func validateRequest(obj interface{}) error {
	return defaultValidator.Validate(obj)
}

// validateEnvName 校验单个环境变量名，供后台任务的命令拼接使用。
func validateEnvName(name string) error {
	if !envNamePattern.MatchString(name) {
		return fmt.Errorf("invalid environment variable name: %q", name)
	}
	return nil
}
