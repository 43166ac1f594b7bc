package submission

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/convoca/core"
)

var (
	targetKindTag  = "targetkind"
	targetKindText = "must be either 'expression' or 'proposal'"
)

// RegisterValidators adds the submission validation tags to v.
func RegisterValidators(v *core.Validator) {
	_ = v.RegisterValidation(targetKindTag, func(fl validator.FieldLevel) bool {
		return Kind(fl.Field().String()).Valid()
	})
	core.RegisterCustomTranslation(v.Validate, v.Translator, targetKindTag, targetKindText)
}
