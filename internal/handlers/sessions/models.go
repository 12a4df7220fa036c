package sessions

import (
	"fmt"
	"sort"
	"strconv"

	"seller-gateway/internal/wizard"
)

// ChangeFieldsRequest is the body of PATCH /wizard/sessions/{id}/fields.
// Values may be JSON strings, numbers or booleans.
type ChangeFieldsRequest struct {
	Fields map[string]any `json:"fields"`
}

type fieldChange struct {
	field wizard.Field
	value string
}

// changes validates every name and value before anything is applied, so a bad
// request leaves the form untouched.
func (req ChangeFieldsRequest) changes() ([]fieldChange, error) {
	if len(req.Fields) == 0 {
		return nil, fmt.Errorf("no fields given")
	}

	known := make(map[wizard.Field]bool, len(wizard.Fields))
	for _, f := range wizard.Fields {
		known[f] = true
	}

	out := make([]fieldChange, 0, len(req.Fields))
	for name, raw := range req.Fields {
		field := wizard.Field(name)
		if !known[field] {
			return nil, fmt.Errorf("unknown field %q", name)
		}

		var value string
		switch v := raw.(type) {
		case string:
			value = v
		case bool:
			value = strconv.FormatBool(v)
		case float64:
			value = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			value = ""
		default:
			return nil, fmt.Errorf("field %q has an unsupported value", name)
		}
		if field == wizard.FieldShipping {
			if value == "" {
				value = "false"
			}
			if _, err := strconv.ParseBool(value); err != nil {
				return nil, fmt.Errorf("field %q must be true or false", name)
			}
		}
		out = append(out, fieldChange{field: field, value: value})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].field < out[j].field })
	return out, nil
}

// PolicyResponse tells the client what the wizard will accept.
type PolicyResponse struct {
	MinImages        int                `json:"min_images"`
	MaxImages        int                `json:"max_images"`
	MaxFileSize      int64              `json:"max_file_size"`
	AllowedMimeTypes []string           `json:"allowed_mime_types"`
	Categories       []wizard.Category  `json:"categories"`
	Conditions       []wizard.Condition `json:"conditions"`
}

func newPolicyResponse(p wizard.Policy) PolicyResponse {
	return PolicyResponse{
		MinImages:        p.MinImages,
		MaxImages:        p.MaxImages,
		MaxFileSize:      p.MaxFileSize,
		AllowedMimeTypes: p.AllowedMimeTypes,
		Categories:       wizard.Categories,
		Conditions:       wizard.Conditions,
	}
}
