package marketplace

import (
	"errors"
	"fmt"

	"seller-gateway/internal/wizard"
)

// ErrInvalidResponse means the backend answered 2xx with a body we cannot trust.
var ErrInvalidResponse = errors.New("marketplace: invalid response")

// RemoteError is a non-2xx answer from the marketplace API.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("marketplace: status %d", e.Status)
	}
	return fmt.Sprintf("marketplace: status %d: %s", e.Status, e.Message)
}

type listingRequest struct {
	Title       string   `json:"title,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Model       string   `json:"model,omitempty"`
	Category    string   `json:"category,omitempty"`
	Condition   string   `json:"condition,omitempty"`
	Year        *int     `json:"year,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Location    string   `json:"location,omitempty"`
	Description string   `json:"description,omitempty"`
	Shipping    *bool    `json:"shipping,omitempty"`
	Images      []string `json:"images,omitempty"`
	SaveDraft   *bool    `json:"saveDraft,omitempty"`
}

func newListingRequest(p wizard.ListingPayload) listingRequest {
	return listingRequest{
		Title:       p.Title,
		Brand:       p.Brand,
		Model:       p.Model,
		Category:    p.Category,
		Condition:   p.Condition,
		Year:        p.Year,
		Price:       p.Price,
		Location:    p.Location,
		Description: p.Description,
		Shipping:    p.Shipping,
		Images:      p.Images,
	}
}

type listingResponse struct {
	ID     int64  `json:"id" validate:"gt=0"`
	Status string `json:"status" validate:"oneof=DRAFT PENDING"`
}

type uploadResponse struct {
	URL string `json:"url" validate:"required,url"`
}

type errorResponse struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}
