// README: Custom binding rules for order statuses and payment outcomes.
package handlers

import (
	"errors"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"drop/internal/modules/order"
)

var registerOnce sync.Once

// RegisterValidators adds order_status and payment_outcome to gin's validator. Safe to call repeatedly.
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = errors.New("gin validator is not go-playground/validator")
			return
		}
		if err = v.RegisterValidation("order_status", validStatus); err != nil {
			return
		}
		err = v.RegisterValidation("payment_outcome", validOutcome)
	})
	return err
}

func validStatus(fl validator.FieldLevel) bool {
	_, err := order.ParseStatus(fl.Field().String())
	return err == nil
}

func validOutcome(fl validator.FieldLevel) bool {
	_, err := order.ParsePaymentOutcome(fl.Field().String())
	return err == nil
}

func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid json"
	}
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = strings.ToLower(fe.Field()) + " failed " + fe.Tag()
	}
	return "invalid request: " + strings.Join(fields, ", ")
}
