package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	Validate   *validator.Validate
	Translator ut.Translator

	// custom validation tags & texts
	stripeSubTag   = "stripe_sub"
	stripeSubText  = "{0} must be a Stripe subscription ID (sub_...)"
	stripeSubRegex = regexp.MustCompile(`^sub_[A-Za-z0-9]+$`)

	stripePITag   = "stripe_pi"
	stripePIText  = "{0} must be a Stripe payment intent ID (pi_...)"
	stripePIRegex = regexp.MustCompile(`^pi_[A-Za-z0-9]+$`)

	descriptorTag   = "descriptor_code"
	descriptorText  = "{0} must be 6 characters starting with SM (e.g. SM11AA)"
	DescriptorRegex = regexp.MustCompile(`^SM[A-Z0-9]{4}$`)

	adjustmentTag  = "billing_adjustment"
	adjustmentText = "{0} must be one of auto_recalculate, keep_current, custom_amount, cancel_subscription"

	requiredTag  = "required"
	requiredText = "{0} is required"
)

func init() {
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	Translator, _ = uni.GetTranslator("en")
	Validate = validator.New()
	InitValidators(Validate, Translator)
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

	_ = validate.RegisterValidation(stripeSubTag, regexValidation(stripeSubRegex))
	RegisterCustomTranslation(validate, translator, stripeSubTag, stripeSubText)

	_ = validate.RegisterValidation(stripePITag, regexValidation(stripePIRegex))
	RegisterCustomTranslation(validate, translator, stripePITag, stripePIText)

	_ = validate.RegisterValidation(descriptorTag, descriptorValidation)
	RegisterCustomTranslation(validate, translator, descriptorTag, descriptorText)

	_ = validate.RegisterValidation(adjustmentTag, adjustmentValidation)
	RegisterCustomTranslation(validate, translator, adjustmentTag, adjustmentText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
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

// TranslateErrors converts validator errors to field errors with English messages.
func TranslateErrors(errs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(errs))
	for _, fe := range errs {
		out = append(out, FieldError{Field: fe.Field(), Error: fe.Translate(Translator)})
	}
	return out
}

// ValidateStruct runs the validator and returns a *ValidationError on failure.
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(vErrs) == 0 {
		return err
	}
	fields := TranslateErrors(vErrs)
	return NewValidationError(errorString(fields[0].Error), fields...)
}

// NormalizeDescriptorCode trims and upper-cases a bank descriptor code.
func NormalizeDescriptorCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func regexValidation(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// BillingAdjustments are the ways a withdrawal can change the family's subscription.
var BillingAdjustments = []string{"auto_recalculate", "keep_current", "custom_amount", "cancel_subscription"}

func adjustmentValidation(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	for _, a := range BillingAdjustments {
		if v == a {
			return true
		}
	}
	return false
}

func descriptorValidation(fl validator.FieldLevel) bool {
	return DescriptorRegex.MatchString(NormalizeDescriptorCode(fl.Field().String()))
}

type errorString string

func (e errorString) Error() string { return string(e) }
