package queue

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	customerNamePattern = regexp.MustCompile(`^[A-Za-zÁÉÍÓÚáéíóúÑñ ]{2,40}$`)
	phonePattern        = regexp.MustCompile(`^[0-9]{8,15}$`)
)

const (
	ChannelCustomer = "customer"
	ChannelStaff    = "staff"
)

// IntakeRequest is a request for a new ticket.
type IntakeRequest struct {
	CustomerName string `json:"customer_name" validate:"required,customer_name"`
	Phone        string `json:"phone" validate:"required,phone_digits"`
	ServiceType  string `json:"service_type" validate:"required"`
	Channel      string `json:"channel" validate:"omitempty,oneof=customer staff"`
}

// PaymentRequest records the charge for a ticket being served.
type PaymentRequest struct {
	Amount    float64 `json:"amount" validate:"gte=0"`
	Method    string  `json:"method" validate:"required,oneof=cash card transfer"`
	Confirmed bool    `json:"confirmed"`
}

var fieldMessages = map[string]string{
	"customer_name": "must contain only letters and spaces (2 to 40 characters)",
	"phone_digits":  "must contain only digits (8 to 15)",
	"required":      "is required",
	"oneof":         "has an unsupported value",
	"gte":           "must not be negative",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("customer_name", func(fl validator.FieldLevel) bool {
		return customerNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("phone_digits", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// validationError converts the first validator failure into a
// ValidationError.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	first := fieldErrs[0]
	reason, ok := fieldMessages[first.Tag()]
	if !ok {
		reason = "is invalid"
	}
	return &ValidationError{Field: first.Field(), Reason: reason}
}
