package rubric

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/convoca/core"
)

var (
	fieldTypeTag  = "fieldtype"
	fieldTypeText = "invalid field type"
)

// RegisterValidators adds the rubric validation tags to v.
func RegisterValidators(v *core.Validator) {
	_ = v.RegisterValidation(fieldTypeTag, fieldTypeValidation)
	core.RegisterCustomTranslation(v.Validate, v.Translator, fieldTypeTag, fieldTypeText)
}

func fieldTypeValidation(fl validator.FieldLevel) bool {
	return FieldType(fl.Field().String()).Valid()
}
