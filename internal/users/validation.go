package users

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"csv-file-drop/internal/common"
	"csv-file-drop/internal/storage"
)

// MeAlias is the path segment that stands for the caller's own username.
const MeAlias = "me"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Usernames double as owner directory names.
	_ = v.RegisterValidation("dirname", func(fl validator.FieldLevel) bool {
		return storage.ValidateName(fl.Field().String()) == nil
	})
	return v
}

// Validate checks the create payload.
func (n NewUser) Validate() error {
	return toValidationError(validate.Struct(n))
}

// Validate checks the fields that were sent.
func (p Patch) Validate() error {
	if p.Username.Set {
		if p.Username.Null {
			return fieldError("username", "must not be null")
		}
		if err := validate.Var(p.Username.Value, "required,dirname,ne=me"); err != nil {
			return fieldError("username", "must be a valid username")
		}
	}
	if p.Password.Set {
		if p.Password.Null {
			return fieldError("password", "must not be null")
		}
		if err := validate.Var(p.Password.Value, "required,max=72"); err != nil {
			return fieldError("password", "must be between 1 and 72 characters")
		}
	}
	if p.Email.HasValue() {
		if err := validate.Var(p.Email.Value, "email"); err != nil {
			return fieldError("email", "value is not a valid email address")
		}
	}
	if p.Disabled.Set && p.Disabled.Null {
		return fieldError("disabled", "must not be null")
	}
	if p.Admin.Set && p.Admin.Null {
		return fieldError("admin", "must not be null")
	}
	return nil
}

func fieldError(field, msg string) error {
	return common.WithDetail(common.ErrValidation, field+": "+msg)
}

// toValidationError reports the first failing field by its JSON name.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return common.WithDetail(common.ErrValidation, err.Error())
	}

	e := verrs[0]
	switch e.Tag() {
	case "required":
		return fieldError(e.Field(), "field required")
	case "email":
		return fieldError(e.Field(), "value is not a valid email address")
	case "dirname", "ne":
		return fieldError(e.Field(), "must be a valid username")
	case "max":
		return fieldError(e.Field(), fmt.Sprintf("must be at most %s characters", e.Param()))
	default:
		return fieldError(e.Field(), "failed on "+e.Tag())
	}
}
