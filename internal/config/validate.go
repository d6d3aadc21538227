package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	"github.com/JakeFAU/webscreenshots/internal/urls"
)

// Violation is one failed rule.
type Violation struct {
	Path    string
	Message string
}

func (v Violation) Error() string {
	return v.Path + " " + v.Message
}

// ValidationError lists every violation found in a configuration.
type ValidationError struct {
	Violations []Violation
	err        error
}

func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		lines = append(lines, v.Error())
	}
	return "configuration validation error(s):\n • " + strings.Join(lines, "\n • ")
}

// Unwrap exposes each violation to errors.Is/As.
func (e *ValidationError) Unwrap() []error {
	return multierr.Errors(e.err)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
		// Registration only fails for empty tags or nil funcs.
		_ = validate.RegisterValidation("abs_url", func(fl validator.FieldLevel) bool {
			_, err := urls.Parse(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks cfg and returns a *ValidationError naming every violation.
func Validate(cfg Config) error {
	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	out := &ValidationError{}
	for _, fe := range fieldErrs {
		v := Violation{Path: fieldPath(fe), Message: message(fe)}
		out.Violations = append(out.Violations, v)
		out.err = multierr.Append(out.err, v)
	}
	return out
}

// fieldPath drops the root struct name: Config.captureOptions.imageType ->
// captureOptions.imageType.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", strings.Replace(fe.Param(), " ", " is ", 1))
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte", "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be > %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "unique":
		return fmt.Sprintf("must not repeat %s", fe.Param())
	case "url", "abs_url":
		return fmt.Sprintf("must be a valid URL (got %q)", fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
