package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"seller-gateway/internal/auth"
	"seller-gateway/internal/wizard"
)

var (
	_ wizard.Gateway       = (*Client)(nil)
	_ wizard.ImageUploader = (*Client)(nil)
)

// Client talks to the marketplace REST API on behalf of the seller whose
// bearer token is in the request context.
type Client struct {
	http     *resty.Client
	validate *validator.Validate
	logger   *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "seller-gateway/1.0")

	return &Client{
		http:     http,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

func (c *Client) CreateDraft(ctx context.Context, payload wizard.ListingPayload) (wizard.DraftRef, error) {
	body := newListingRequest(payload)
	saveDraft := true
	body.SaveDraft = &saveDraft

	var out listingResponse
	resp, err := c.request(ctx).
		SetBody(body).
		Post("/seller/listings")
	if err := c.decode(resp, err, &out); err != nil {
		return wizard.DraftRef{}, err
	}

	c.logger.InfoContext(ctx, "Marketplace draft created", "draft_id", out.ID, "status", out.Status)
	return wizard.DraftRef{ID: out.ID, Status: out.Status}, nil
}

func (c *Client) UpdateDraft(ctx context.Context, id int64, payload wizard.ListingPayload) error {
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetBody(newListingRequest(payload)).
		Patch("/seller/listings/{id}")
	return c.decode(resp, err, nil)
}

func (c *Client) SubmitDraft(ctx context.Context, id int64) error {
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Post("/seller/listings/{id}/submit")
	return c.decode(resp, err, nil)
}

// UploadImage posts one file as multipart form data and returns its public URL.
func (c *Client) UploadImage(ctx context.Context, file wizard.File, draftID int64) (string, error) {
	req := c.request(ctx).
		SetMultipartField("file", file.Name, file.ContentType, bytes.NewReader(file.Data))
	if draftID > 0 {
		req.SetFormData(map[string]string{"listingId": strconv.FormatInt(draftID, 10)})
	}

	var out uploadResponse
	resp, err := req.Post("/listings/upload-image")
	if err := c.decode(resp, err, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if token := auth.GetToken(ctx); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// decode turns a resty result into either a validated out value or an error.
// out may be nil when the body is irrelevant.
func (c *Client) decode(resp *resty.Response, err error, out any) error {
	if err != nil {
		return fmt.Errorf("marketplace request failed: %w", err)
	}
	if resp.IsError() || resp.StatusCode() >= 300 {
		return remoteError(resp)
	}
	if out == nil {
		return nil
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrInvalidResponse, resp.Request.Method, resp.Request.URL, err)
	}
	if err := c.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrInvalidResponse, resp.Request.Method, resp.Request.URL, err)
	}
	return nil
}

func remoteError(resp *resty.Response) *RemoteError {
	re := &RemoteError{Status: resp.StatusCode()}

	var body errorResponse
	if json.Unmarshal(resp.Body(), &body) == nil {
		re.Code = body.Code
		re.Message = body.Message
		if re.Message == "" {
			re.Message = body.Error
		}
	}
	return re
}
