package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validForm() Form {
	return Form{
		Title:       "Specialized Rockhopper",
		Brand:       "Specialized",
		Model:       "Rockhopper",
		Category:    CategoryMountain,
		Price:       "420.50",
		Location:    "Bristol",
		Description: "Hardtail, new tyres.",
	}
}

func TestValidateVehicleInfo_Valid(t *testing.T) {
	assert.Empty(t, ValidateVehicleInfo(validForm()))
}

func TestValidateVehicleInfo_EachMissingField(t *testing.T) {
	cases := []struct {
		name  string
		field Field
		edit  func(*Form)
	}{
		{"title blank", FieldTitle, func(f *Form) { f.Title = "   " }},
		{"brand empty", FieldBrand, func(f *Form) { f.Brand = "" }},
		{"model empty", FieldModel, func(f *Form) { f.Model = "" }},
		{"category empty", FieldCategory, func(f *Form) { f.Category = "" }},
		{"location tabs", FieldLocation, func(f *Form) { f.Location = "\t" }},
		{"description empty", FieldDescription, func(f *Form) { f.Description = "" }},
		{"price empty", FieldPrice, func(f *Form) { f.Price = "" }},
		{"price zero", FieldPrice, func(f *Form) { f.Price = "0" }},
		{"price negative", FieldPrice, func(f *Form) { f.Price = "-10" }},
		{"price not a number", FieldPrice, func(f *Form) { f.Price = "cheap" }},
		{"price NaN", FieldPrice, func(f *Form) { f.Price = "NaN" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := validForm()
			tc.edit(&form)

			errs := ValidateVehicleInfo(form)

			assert.Len(t, errs, 1)
			assert.NotEmpty(t, errs[tc.field])
		})
	}
}

func TestValidateVehicleInfo_EmptyFormReportsEveryRequiredField(t *testing.T) {
	errs := ValidateVehicleInfo(Form{})

	assert.ElementsMatch(t,
		[]Field{FieldTitle, FieldBrand, FieldModel, FieldCategory, FieldLocation, FieldDescription, FieldPrice},
		keys(errs),
	)
}

func TestValidateImages(t *testing.T) {
	assert.NotEmpty(t, ValidateImages(2, 3))
	assert.Empty(t, ValidateImages(3, 3))
	assert.Empty(t, ValidateImages(7, 3))
}

func keys(m map[Field]string) []Field {
	out := make([]Field, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
