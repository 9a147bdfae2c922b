package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/stemsi/psytest-backend/internal/apperror"
)

// trans is the singleton English translator for validation errors.
var trans ut.Translator

// Setup registers the validator with English translations on Gin's binding engine.
// Call once during application startup.
func Setup() {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		// Use JSON tag name for field names in error messages.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		// Register English translations.
		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		en_translations.RegisterDefaultTranslations(v, trans)
	}
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name to human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

var (
	structOnce     sync.Once
	structValidate *govalidator.Validate
	structTrans    ut.Translator
)

func structEngine() (*govalidator.Validate, ut.Translator) {
	structOnce.Do(func() {
		v := govalidator.New(govalidator.WithRequiredStructEnabled())
		v.SetTagName("validate")
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		structTrans, _ = uni.GetTranslator("en")
		en_translations.RegisterDefaultTranslations(v, structTrans)
		structValidate = v
	})
	return structValidate, structTrans
}

// Struct validates v against its `validate` tags outside of a request.
// Field errors are returned as apperror.ValidationErrors keyed by JSON path
// below prefix.
func Struct(prefix string, v interface{}) error {
	engine, tr := structEngine()
	err := engine.Struct(v)
	if err == nil {
		return nil
	}
	var fes govalidator.ValidationErrors
	if !errors.As(err, &fes) {
		return err
	}
	var out apperror.ValidationErrors
	for _, fe := range fes {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if prefix != "" {
			field = prefix + "." + field
		}
		out = append(out, apperror.ValidationError{
			Field:   field,
			Message: fe.Translate(tr),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}
