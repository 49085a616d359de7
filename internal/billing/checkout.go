package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"premiumsync/internal/logging"
)

type CheckoutConfig struct {
	APIKey      string
	APIBaseURL  string
	StoreID     string
	VariantID   string
	RedirectURL string
}

type CheckoutResult struct {
	CheckoutURL string `json:"checkout_url"`
	UserID      string `json:"user_id"`
}

// CheckoutClient asks the provider for a hosted purchase URL. The user id
// rides along in checkout_data.custom so webhooks can be attributed later.
type CheckoutClient struct {
	Config     CheckoutConfig
	HTTPClient *http.Client
}

func NewCheckoutClient(cfg CheckoutConfig) *CheckoutClient {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.lemonsqueezy.com"
	}
	return &CheckoutClient{
		Config:     cfg,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type relationship struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

func newRelationship(kind, id string) relationship {
	var r relationship
	r.Data.Type = kind
	r.Data.ID = id
	return r
}

type checkoutRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			CheckoutData struct {
				Email  string            `json:"email,omitempty"`
				Custom map[string]string `json:"custom"`
			} `json:"checkout_data"`
			ProductOptions *struct {
				RedirectURL string `json:"redirect_url"`
			} `json:"product_options,omitempty"`
		} `json:"attributes"`
		Relationships struct {
			Store   relationship `json:"store"`
			Variant relationship `json:"variant"`
		} `json:"relationships"`
	} `json:"data"`
}

func (c *CheckoutClient) CreateCheckout(ctx context.Context, userID, email string) (*CheckoutResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("checkout requires a user id")
	}
	if strings.TrimSpace(c.Config.APIKey) == "" {
		return nil, errors.New("billing api key not configured")
	}
	if c.Config.StoreID == "" || c.Config.VariantID == "" {
		return nil, errors.New("billing store and variant ids not configured")
	}

	var reqBody checkoutRequest
	reqBody.Data.Type = "checkouts"
	reqBody.Data.Attributes.CheckoutData.Email = email
	reqBody.Data.Attributes.CheckoutData.Custom = map[string]string{"user_id": userID}
	if c.Config.RedirectURL != "" {
		reqBody.Data.Attributes.ProductOptions = &struct {
			RedirectURL string `json:"redirect_url"`
		}{RedirectURL: c.Config.RedirectURL}
	}
	reqBody.Data.Relationships.Store = newRelationship("stores", c.Config.StoreID)
	reqBody.Data.Relationships.Variant = newRelationship("variants", c.Config.VariantID)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(c.Config.APIBaseURL, "/") + "/v1/checkouts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Authorization", "Bearer "+c.Config.APIKey)
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("checkout request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var created struct {
		Data struct {
			Attributes struct {
				URL string `json:"url"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, err
	}
	if created.Data.Attributes.URL == "" {
		return nil, errors.New("checkout response missing url")
	}
	return &CheckoutResult{CheckoutURL: created.Data.Attributes.URL, UserID: userID}, nil
}
