package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = "only alphanumeric characters and underscores are allowed"
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	notBlankTag  = "notblank"
	notBlankText = "this field cannot be blank"

	oneDecimalTag  = "onedecimal"
	oneDecimalText = "must be a number between -99.9 and 99.9 with at most one decimal place"

	scoreTag  = "score"
	scoreText = "must be a number between 0 and 99.9 with at most one decimal place"

	roleTag  = "role"
	roleText = "invalid role"

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"

	// scores are stored as decimal(3,1)
	maxScoreValue = decimal.RequireFromString("99.9")
)

// Validator bundles the struct validator with the translator used for its error messages.
type Validator struct {
	*validator.Validate
	Translator ut.Translator
}

// NewValidator instantiates a Validator with the english translations and the core custom validators.
func NewValidator() *Validator {
	validate := validator.New()
	translator := NewTranslator()
	InitValidators(validate, translator)
	return &Validator{Validate: validate, Translator: translator}
}

func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// validate decimals through their string representation
	validate.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{}, decimal.NullDecimal{})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, alphaNumUnderValidation)
	RegisterCustomTranslation(validate, translator, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	RegisterCustomTranslation(validate, translator, notBlankTag, notBlankText)

	_ = validate.RegisterValidation(oneDecimalTag, oneDecimalValidation)
	RegisterCustomTranslation(validate, translator, oneDecimalTag, oneDecimalText)

	_ = validate.RegisterValidation(scoreTag, scoreValidation)
	RegisterCustomTranslation(validate, translator, scoreTag, scoreText)

	_ = validate.RegisterValidation(roleTag, roleValidation)
	RegisterCustomTranslation(validate, translator, roleTag, roleText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Struct validates s and converts validation failures into a *ValidationError
// carrying one translated FieldError per failing field.
func (v *Validator) Struct(s interface{}) error {
	err := v.Validate.Struct(s)
	if err == nil {
		return nil
	}
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, "validating struct")
	}
	flds := make([]FieldError, 0, len(vErrs))
	for _, vErr := range vErrs {
		flds = append(flds, FieldError{Field: fieldPath(vErr), Error: vErr.Translate(v.Translator)})
	}
	return NewValidationError(nil, flds...)
}

// fieldPath drops the top level struct name from the namespace: "NewItem.options[0].score" -> "options[0].score"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func decimalValue(field reflect.Value) interface{} {
	switch d := field.Interface().(type) {
	case decimal.Decimal:
		return d.String()
	case decimal.NullDecimal:
		if d.Valid {
			return d.Decimal.String()
		}
	}
	return nil
}

// HasOneDecimal reports whether d fits a decimal(3,1) column.
func HasOneDecimal(d decimal.Decimal) bool {
	return d.Equal(d.Round(1)) && d.Abs().LessThanOrEqual(maxScoreValue)
}

// Custom Global Validators

// alphaNumUnderValidation only allows alphanumeric characters and underscores.
func alphaNumUnderValidation(fl validator.FieldLevel) bool {
	return alphaNumUnderRegex.MatchString(fl.Field().String())
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return strings.TrimSpace(fl.Field().String()) != ""
}

func parseDecimalField(fl validator.FieldLevel) (decimal.Decimal, bool) {
	if fl.Field().Kind() != reflect.String {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func oneDecimalValidation(fl validator.FieldLevel) bool {
	d, ok := parseDecimalField(fl)
	return ok && HasOneDecimal(d)
}

func scoreValidation(fl validator.FieldLevel) bool {
	d, ok := parseDecimalField(fl)
	return ok && HasOneDecimal(d) && !d.IsNegative()
}

func roleValidation(fl validator.FieldLevel) bool {
	return ValidRole(fl.Field().String())
}
