package wizard

import (
	"fmt"
	"strings"
)

var requiredFields = []struct {
	field   Field
	message string
}{
	{FieldTitle, "Title is required"},
	{FieldBrand, "Brand is required"},
	{FieldModel, "Model is required"},
	{FieldCategory, "Category is required"},
	{FieldLocation, "Location is required"},
	{FieldDescription, "Description is required"},
}

const msgPriceInvalid = "Price must be a number greater than zero"

// ValidateVehicleInfo checks the fields required to leave the first step.
// It returns one message per failing field, or an empty map.
func ValidateVehicleInfo(f Form) map[Field]string {
	errs := make(map[Field]string)
	for _, r := range requiredFields {
		if strings.TrimSpace(f.text(r.field)) == "" {
			errs[r.field] = r.message
		}
	}

	if price, ok := parsePrice(f.Price); !ok || price <= 0 {
		errs[FieldPrice] = msgPriceInvalid
	}
	return errs
}

// ValidateImages returns the upload-level message shown when fewer than min
// images have been uploaded, or "" when the count is sufficient.
func ValidateImages(count, min int) string {
	if count < min {
		return fmt.Sprintf("Please upload at least %d images", min)
	}
	return ""
}
