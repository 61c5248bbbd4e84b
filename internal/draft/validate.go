package draft

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vbonduro/tileconsole/internal/domain"
)

// Field keys used in Errors. Attribute keys are the attribute ids (CatId, ...).
const (
	FieldSkuName = "SkuName"
	FieldSkuCode = "SkuCode"
	FieldImages  = "images"
)

const minSkuNameLen = 2

var skuCodePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Errors maps a field key to its message. An empty map means the draft is
// accepted.
type Errors map[string]string

func (e Errors) OK() bool { return len(e) == 0 }

// Fields returns the offending field keys in form order.
func (e Errors) Fields() []string {
	order := map[string]int{FieldSkuName: 0, FieldSkuCode: 1, FieldImages: 100}
	for i, a := range domain.Attributes {
		order[string(a)] = i + 2
		order[a.NameField()] = i + 2
	}
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return order[keys[i]] < order[keys[j]] })
	return keys
}

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, k := range e.Fields() {
		parts = append(parts, e[k])
	}
	return strings.Join(parts, " ")
}

type fields struct {
	SkuName       string `json:"SkuName" validate:"notblank,min=2"`
	SkuCode       string `json:"SkuCode" validate:"notblank,skucode"`
	CategoryID    string `json:"CatId" validate:"notblank"`
	ApplicationID string `json:"AppId" validate:"notblank"`
	SpaceID       string `json:"SpaceId" validate:"notblank"`
	SizeID        string `json:"SizeId" validate:"notblank"`
	FinishID      string `json:"FinishId" validate:"notblank"`
	ColorID       string `json:"ColorId" validate:"notblank"`
}

type editFields struct {
	SkuName         string `json:"SkuName" validate:"notblank,min=2"`
	SkuCode         string `json:"SkuCode" validate:"notblank,skucode"`
	CategoryName    string `json:"CatName" validate:"notblank"`
	ApplicationName string `json:"AppName" validate:"notblank"`
	SpaceName       string `json:"SpaceName" validate:"notblank"`
	SizeName        string `json:"SizeName" validate:"notblank"`
	FinishName      string `json:"FinishName" validate:"notblank"`
	ColorName       string `json:"ColorName" validate:"notblank"`
}

// Validator checks product drafts before they are submitted.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("json")
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("skucode", func(fl validator.FieldLevel) bool {
		return ValidSKUCode(fl.Field().String())
	})
	return &Validator{validate: v}
}

// ValidSKUCode reports whether s contains only letters, digits and hyphens.
func ValidSKUCode(s string) bool {
	return skuCodePattern.MatchString(s)
}

// Validate evaluates every rule without short-circuiting, so each violated
// field is reported at once. refs may be nil when no reference data is
// available, in which case selections are not resolved.
func (v *Validator) Validate(d domain.ProductDraft, refs *domain.ReferenceData, captured, faceCount int) Errors {
	errs := Errors{}

	in := fields{
		SkuName:       d.SkuName,
		SkuCode:       d.SkuCode,
		CategoryID:    d.CategoryID,
		ApplicationID: d.ApplicationID,
		SpaceID:       d.SpaceID,
		SizeID:        d.SizeID,
		FinishID:      d.FinishID,
		ColorID:       d.ColorID,
	}
	v.check(in, errs)

	if refs != nil {
		for _, a := range domain.Attributes {
			key := string(a)
			if _, failed := errs[key]; failed {
				continue
			}
			if _, ok := refs.Resolve(a, d.AttributeID(a)); !ok {
				errs[key] = fmt.Sprintf("%s is not a valid selection.", a.Label())
			}
		}
	}

	if captured != faceCount {
		errs[FieldImages] = fmt.Sprintf("Please upload %d image(s) for the faces.", faceCount)
	}
	return errs
}

// ValidateEdit checks an edit of an existing tile, where attributes are
// carried by name. Error keys are the name fields (CatName, ...).
func (v *Validator) ValidateEdit(skuName, skuCode string, names map[domain.Attribute]string) Errors {
	errs := Errors{}
	v.check(editFields{
		SkuName:         skuName,
		SkuCode:         skuCode,
		CategoryName:    names[domain.AttrCategory],
		ApplicationName: names[domain.AttrApplication],
		SpaceName:       names[domain.AttrSpace],
		SizeName:        names[domain.AttrSize],
		FinishName:      names[domain.AttrFinish],
		ColorName:       names[domain.AttrColor],
	}, errs)
	return errs
}

func (v *Validator) check(in any, errs Errors) {
	err := v.validate.Struct(in)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs[FieldSkuName] = err.Error()
		return
	}
	for _, fe := range verrs {
		errs[fe.Field()] = message(fe)
	}
}

func message(fe validator.FieldError) string {
	label := labelFor(fe.Field())
	switch fe.Tag() {
	case "notblank":
		return label + " is required."
	case "skucode":
		return "SKU Code must contain only letters, numbers, and hyphens."
	case "min":
		return fmt.Sprintf("SKU Name must be at least %d characters long.", minSkuNameLen)
	default:
		return label + " is invalid."
	}
}

func labelFor(field string) string {
	switch field {
	case FieldSkuName:
		return "SKU Name"
	case FieldSkuCode:
		return "SKU Code"
	}
	for _, a := range domain.Attributes {
		if field == a.NameField() {
			return a.Label()
		}
	}
	return domain.Attribute(field).Label()
}
