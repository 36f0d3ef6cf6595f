package middleware

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/clinicore/queue-api/internal/model"
)

// RegisterValidators installs the custom binding validations used by the
// request DTOs.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("queuestatus", func(fl validator.FieldLevel) bool {
		return model.ValidQueueStatus(model.QueueStatus(fl.Field().String()))
	})
}
