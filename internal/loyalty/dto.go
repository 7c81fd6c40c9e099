package loyalty

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hotel-loyalty/loyalty/internal/tier"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationErrors flattens validator output into field -> message.
func validationErrors(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out[fe.Field()] = "This field is required"
		case "gt", "gte":
			out[fe.Field()] = "Value must be at least " + minParam(fe)
		case "lte", "max":
			out[fe.Field()] = "Value is too long or large (max: " + fe.Param() + ")"
		case "min":
			out[fe.Field()] = "Value is too short (min: " + fe.Param() + ")"
		case "hexcolor", "len":
			out[fe.Field()] = "Must be a #RRGGBB hex color"
		case "required_with":
			out[fe.Field()] = "Required together with " + fe.Param()
		default:
			out[fe.Field()] = "Invalid value"
		}
	}
	return out
}

func minParam(fe validator.FieldError) string {
	if fe.Tag() == "gt" {
		return "above " + fe.Param()
	}
	return fe.Param()
}

type adjustRequest struct {
	Points        int64   `json:"points" validate:"required,gt=0,lte=1000000000"`
	Reason        *string `json:"reason" validate:"required"`
	ReferenceType string  `json:"reference_type" validate:"omitempty,max=50"`
	ReferenceID   string  `json:"reference_id" validate:"required_with=ReferenceType,omitempty,max=100"`
	Notes         string  `json:"notes" validate:"omitempty,max=500"`
	Nights        int     `json:"nights" validate:"gte=0,lte=365"`
}

type stayRequest struct {
	Points      int64  `json:"points" validate:"required,gt=0,lte=1000000000"`
	Nights      int    `json:"nights" validate:"required,gte=1,lte=365"`
	BookingID   string `json:"booking_id" validate:"required,max=100"`
	Description string `json:"description" validate:"omitempty,max=500"`
}

type redeemRequest struct {
	Points        int64  `json:"points" validate:"required,gt=0,lte=1000000000"`
	ReferenceType string `json:"reference_type" validate:"required,max=50"`
	ReferenceID   string `json:"reference_id" validate:"required,max=100"`
	Description   string `json:"description" validate:"omitempty,max=500"`
}

type correctRequest struct {
	Reason *string `json:"reason" validate:"required"`
}

type benefitsRequest struct {
	Description string   `json:"description" validate:"max=1000"`
	Perks       []string `json:"perks" validate:"omitempty,dive,min=1,max=200"`
}

func (b benefitsRequest) toBenefits() tier.Benefits {
	perks := b.Perks
	if perks == nil {
		perks = []string{}
	}
	return tier.Benefits{Description: b.Description, Perks: perks}
}

type createTierRequest struct {
	Name      string          `json:"name" validate:"required,min=1,max=50"`
	MinNights *int            `json:"min_nights" validate:"required,gte=0"`
	Color     string          `json:"color" validate:"required,hexcolor,len=7"`
	SortOrder int             `json:"sort_order" validate:"gte=0"`
	Benefits  benefitsRequest `json:"benefits"`
}

func (r createTierRequest) toDraft() tier.Draft {
	return tier.Draft{
		Name:      r.Name,
		MinNights: *r.MinNights,
		Color:     r.Color,
		SortOrder: r.SortOrder,
		Benefits:  r.Benefits.toBenefits(),
	}
}

type updateTierRequest struct {
	Name      *string          `json:"name" validate:"omitempty,min=1,max=50"`
	MinNights *int             `json:"min_nights" validate:"omitempty,gte=0"`
	Color     *string          `json:"color" validate:"omitempty,hexcolor,len=7"`
	SortOrder *int             `json:"sort_order" validate:"omitempty,gte=0"`
	Benefits  *benefitsRequest `json:"benefits"`
}

func (r updateTierRequest) toPatch() tier.Patch {
	p := tier.Patch{Name: r.Name, MinNights: r.MinNights, Color: r.Color, SortOrder: r.SortOrder}
	if r.Benefits != nil {
		b := r.Benefits.toBenefits()
		p.Benefits = &b
	}
	return p
}
