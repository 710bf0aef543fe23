package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72
)

var dateOfBirthLayouts = []string{dateLayout, "01/02/2006"}

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("password", validatePasswordField); err != nil {
		panic(fmt.Sprintf("register password rule: %v", err))
	}

	return &Validator{validate: v}
}

// Struct validates s and converts failures into a *ValidationError.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate input: %w", err)
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = messageFor(fe)
	}
	return out
}

func (v *Validator) Email(email string) error {
	if err := v.validate.Var(email, "required,email,max=254"); err != nil {
		return newValidationError("email", "must be a valid email address")
	}
	return nil
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "password":
		return "must be 8 to 72 bytes and contain an uppercase letter, a lowercase letter and a digit"
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "e164":
		return "must be a phone number in international format"
	default:
		return fmt.Sprintf("failed on '%s' rule", fe.Tag())
	}
}

func validatePasswordField(fl validator.FieldLevel) bool {
	return PasswordStrong(fl.Field().String())
}

// PasswordStrong reports whether plain satisfies the password policy.
func PasswordStrong(plain string) bool {
	if len([]rune(plain)) < minPasswordLength || len(plain) > maxPasswordBytes {
		return false
	}

	var upper, lower, digit bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}

// ParseDateOfBirth accepts YYYY-MM-DD or MM/DD/YYYY. Empty input yields nil.
func ParseDateOfBirth(raw string, now time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	for _, layout := range dateOfBirthLayouts {
		parsed, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if parsed.After(now) {
			return nil, newValidationError("date_of_birth", "must not be in the future")
		}
		return &parsed, nil
	}

	return nil, newValidationError("date_of_birth", "must be YYYY-MM-DD or MM/DD/YYYY")
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
