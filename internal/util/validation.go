package util

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/BTreeMap/NutriPipe/internal/models"
)

var validate = validator.New()

// ValidateStruct runs the struct's validate tags. The first failing field is
// reported as a *models.ValidationError.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &models.ValidationError{Field: fe.Field(), Reason: formatFieldError(fe)}
	}
	return &models.ValidationError{Field: "", Reason: err.Error()}
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "required_if":
		return fmt.Sprintf("is required when %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// ValidateEvent checks an inbound event decoded from an external transport.
func ValidateEvent(ev *models.Event) error {
	if ev == nil {
		return &models.ValidationError{Field: "event", Reason: "is required"}
	}
	if err := ValidateStruct(ev); err != nil {
		return err
	}
	if ev.Kind == models.EventKindCommand && !models.IsValidCommand(ev.Command) {
		return &models.ValidationError{Field: "Command", Reason: fmt.Sprintf("unknown command %q", ev.Command)}
	}
	return nil
}
