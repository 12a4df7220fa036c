package wizard

import (
	"math"
	"strconv"
	"strings"
)

// Field names a single input of the vehicle info step.
type Field string

const (
	FieldTitle       Field = "title"
	FieldBrand       Field = "brand"
	FieldModel       Field = "model"
	FieldCategory    Field = "category"
	FieldCondition   Field = "condition"
	FieldYear        Field = "year"
	FieldPrice       Field = "price"
	FieldLocation    Field = "location"
	FieldDescription Field = "description"
	FieldShipping    Field = "shipping"
)

// Fields lists every field the wizard accepts, in form order.
var Fields = []Field{
	FieldTitle, FieldBrand, FieldModel, FieldCategory, FieldCondition,
	FieldYear, FieldPrice, FieldLocation, FieldDescription, FieldShipping,
}

type Category string

const (
	CategoryRoad     Category = "road"
	CategoryMountain Category = "mountain"
	CategoryGravel   Category = "gravel"
	CategoryHybrid   Category = "hybrid"
	CategoryCity     Category = "city"
	CategoryBMX      Category = "bmx"
	CategoryElectric Category = "electric"
	CategoryKids     Category = "kids"
	CategoryOther    Category = "other"
)

var Categories = []Category{
	CategoryRoad, CategoryMountain, CategoryGravel, CategoryHybrid, CategoryCity,
	CategoryBMX, CategoryElectric, CategoryKids, CategoryOther,
}

type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionLikeNew Condition = "like_new"
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
	ConditionPoor    Condition = "poor"
)

var Conditions = []Condition{
	ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair, ConditionPoor,
}

// Form is the listing draft being edited in one wizard session.
// Numeric inputs are kept as the raw text the seller typed.
type Form struct {
	Title       string    `json:"title"`
	Brand       string    `json:"brand"`
	Model       string    `json:"model"`
	Category    Category  `json:"category"`
	Condition   Condition `json:"condition"`
	Year        string    `json:"year"`
	Price       string    `json:"price"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Shipping    bool      `json:"shipping"`
}

// ListingPayload is the listing body handed to the Gateway. Nil pointers and
// empty strings are omitted on partial updates.
type ListingPayload struct {
	Title       string
	Brand       string
	Model       string
	Category    string
	Condition   string
	Year        *int
	Price       *float64
	Location    string
	Description string
	Shipping    *bool
	Images      []string
}

func (f *Form) set(field Field, value string) error {
	switch field {
	case FieldTitle:
		f.Title = value
	case FieldBrand:
		f.Brand = value
	case FieldModel:
		f.Model = value
	case FieldCategory:
		f.Category = Category(value)
	case FieldCondition:
		f.Condition = Condition(value)
	case FieldYear:
		f.Year = value
	case FieldPrice:
		f.Price = value
	case FieldLocation:
		f.Location = value
	case FieldDescription:
		f.Description = value
	case FieldShipping:
		shipping, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return ErrInvalidValue
		}
		f.Shipping = shipping
	default:
		return ErrUnknownField
	}
	return nil
}

func (f Form) text(field Field) string {
	switch field {
	case FieldTitle:
		return f.Title
	case FieldBrand:
		return f.Brand
	case FieldModel:
		return f.Model
	case FieldCategory:
		return string(f.Category)
	case FieldCondition:
		return string(f.Condition)
	case FieldYear:
		return f.Year
	case FieldPrice:
		return f.Price
	case FieldLocation:
		return f.Location
	case FieldDescription:
		return f.Description
	case FieldShipping:
		return strconv.FormatBool(f.Shipping)
	}
	return ""
}

func (f Form) payload() ListingPayload {
	shipping := f.Shipping
	p := ListingPayload{
		Title:       strings.TrimSpace(f.Title),
		Brand:       strings.TrimSpace(f.Brand),
		Model:       strings.TrimSpace(f.Model),
		Category:    strings.TrimSpace(string(f.Category)),
		Condition:   strings.TrimSpace(string(f.Condition)),
		Location:    strings.TrimSpace(f.Location),
		Description: strings.TrimSpace(f.Description),
		Shipping:    &shipping,
	}
	if price, ok := parsePrice(f.Price); ok {
		p.Price = &price
	}
	if year, err := strconv.Atoi(strings.TrimSpace(f.Year)); err == nil {
		p.Year = &year
	}
	return p
}

func parsePrice(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
