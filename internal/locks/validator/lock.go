package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"reslock/pkg/logger"
	"reslock/pkg/model"

	"github.com/go-playground/validator/v10"
)

var (
	// Resource and holder ids are opaque, but must be safe to log and to use as keys.
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]{0,127}$`)
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

type LockValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewLockValidator(log *logger.Logger) *LockValidator {
	v := validator.New()

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	if err := v.RegisterValidation("resource_id", validateIdentifier); err != nil {
		log.Fatal("Failed to register 'resource_id' validator", "error", err)
	}

	log.Debug("Lock validator initialized successfully")

	return &LockValidator{
		validate: v,
		logger:   log,
	}
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierRegex.MatchString(fl.Field().String())
}

// ValidateAcquire checks the request shape and parses its window. Ordering of the dates
// is left to the lock manager, which reports it as InvalidWindow.
func (v *LockValidator) ValidateAcquire(req *model.AcquireLockRequest) (model.Window, error) {
	if err := v.validate.Struct(req); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return model.Window{}, v.translateValidationErrors(validationErrs)
		}
		return model.Window{}, err
	}

	window, err := model.ParseWindow(req.CheckIn, req.CheckOut)
	if err != nil {
		return model.Window{}, ValidationErrors{
			ValidationError{Field: "check_in", Message: err.Error()},
		}
	}
	return window, nil
}

// ValidateIdentifier checks a resource id taken from the URL or a holder id from a header.
func (v *LockValidator) ValidateIdentifier(field, value string) error {
	if value == "" {
		return ValidationErrors{ValidationError{Field: field, Message: fmt.Sprintf("%s is required", field)}}
	}
	if !identifierRegex.MatchString(value) {
		return ValidationErrors{ValidationError{Field: field, Message: identifierMessage(field)}}
	}
	return nil
}

func identifierMessage(field string) string {
	return fmt.Sprintf("%s must be 1-128 characters of letters, digits, '.', '_', ':', '@' or '-'", field)
}

func (v *LockValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "resource_id":
			message = identifierMessage(err.Field())
		case "datetime":
			message = fmt.Sprintf("%s must be a date in YYYY-MM-DD format", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
