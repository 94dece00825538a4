package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"upkeep/internal/types"
)

// Validator wraps go-playground/validator and translates field errors into
// the structured AppError shape the response envelope expects.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError describes a single field-level validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidator creates a Validator. Field names in error output come from the
// json struct tag so clients see the wire name, not the Go name.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates s against its struct tags. On failure it returns a
// *types.AppError whose code reflects the first failure and whose details
// carry the full list under "validation_errors".
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"validation could not be performed",
			err,
		)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"request validation failed",
			err,
		)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    string(codeForTag(fe.Tag())),
			Message: messageForFieldError(fe),
		})
	}

	return types.NewAppErrorWithDetails(
		codeForTag(fieldErrs[0].Tag()),
		messageForFieldError(fieldErrs[0]),
		err,
		map[string]any{"validation_errors": out},
	)
}

// codeForTag maps a validator tag to the public error code.
func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_without", "required_with":
		return types.ErrCodeValidationMissingField
	default:
		return types.ErrCodeValidationInvalidField
	}
}

// messageForFieldError renders a short human-readable message for a failure.
func messageForFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return "field '" + fe.Field() + "' is required"
	case "oneof":
		return "field '" + fe.Field() + "' must be one of: " + fe.Param()
	case "min":
		return "field '" + fe.Field() + "' must be at least " + fe.Param()
	case "max":
		return "field '" + fe.Field() + "' must be at most " + fe.Param()
	case "gt":
		return "field '" + fe.Field() + "' must be greater than " + fe.Param()
	default:
		return "field '" + fe.Field() + "' failed validation rule '" + fe.Tag() + "'"
	}
}
