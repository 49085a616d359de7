package billing

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind is the closed set of subscription lifecycle events the dispatcher understands.
type Kind string

const (
	KindCreated   Kind = "created"
	KindUpdated   Kind = "updated"
	KindCancelled Kind = "cancelled"
	KindExpired   Kind = "expired"
	KindResumed   Kind = "resumed"
	KindPaused    Kind = "paused"
	KindUnpaused  Kind = "unpaused"
	KindUnknown   Kind = "unknown"
)

var eventKinds = map[string]Kind{
	"subscription_created":   KindCreated,
	"subscription_updated":   KindUpdated,
	"subscription_cancelled": KindCancelled,
	"subscription_expired":   KindExpired,
	"subscription_resumed":   KindResumed,
	"subscription_paused":    KindPaused,
	"subscription_unpaused":  KindUnpaused,
}

// KindFromEventName maps a provider event name onto Kind. Names the provider
// adds later land on KindUnknown.
func KindFromEventName(name string) Kind {
	if kind, ok := eventKinds[strings.ToLower(strings.TrimSpace(name))]; ok {
		return kind
	}
	return KindUnknown
}

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedBody    = errors.New("malformed webhook body")
	ErrUnattributable   = errors.New("event carries no user id")
)

// InboundEvent is one parsed provider notification. UserID is empty when the
// checkout never carried the correlation field.
type InboundEvent struct {
	Kind                   Kind
	EventName              string
	EventID                string
	UserID                 string
	StoreID                string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	Status                 string
	RenewsAt               *time.Time
	EndsAt                 *time.Time
}

// flexID accepts identifiers the provider sends either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type envelope struct {
	Meta struct {
		EventName  string `json:"event_name"`
		EventID    string `json:"event_id"`
		CustomData struct {
			UserID flexID `json:"user_id"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         flexID `json:"id"`
		Attributes struct {
			StoreID    flexID  `json:"store_id"`
			CustomerID flexID  `json:"customer_id"`
			Status     string  `json:"status"`
			RenewsAt   *string `json:"renews_at"`
			EndsAt     *string `json:"ends_at"`
		} `json:"attributes"`
	} `json:"data"`
}

//go:embed schemas/webhook_envelope.json
var envelopeSchema []byte

// Parser decodes provider envelopes after validating their shape.
type Parser struct {
	schema *jsonschema.Schema
}

func NewParser() (*Parser, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("webhook_envelope.json", bytes.NewReader(envelopeSchema)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile("webhook_envelope.json")
	if err != nil {
		return nil, err
	}
	return &Parser{schema: compiled}, nil
}

// Parse returns ErrMalformedBody (wrapped) for anything that is not a
// provider envelope. A missing user id is not an error here.
func (p *Parser) Parse(rawBody []byte) (InboundEvent, error) {
	var doc any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if p != nil && p.schema != nil {
		if err := p.schema.Validate(doc); err != nil {
			return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	attrs := env.Data.Attributes
	ev := InboundEvent{
		Kind:                   KindFromEventName(env.Meta.EventName),
		EventName:              env.Meta.EventName,
		EventID:                strings.TrimSpace(env.Meta.EventID),
		UserID:                 string(env.Meta.CustomData.UserID),
		StoreID:                string(attrs.StoreID),
		ProviderCustomerID:     string(attrs.CustomerID),
		ProviderSubscriptionID: string(env.Data.ID),
		Status:                 strings.ToLower(strings.TrimSpace(attrs.Status)),
	}
	// Unknown kinds are ignored downstream, so their attributes are not read.
	if ev.Kind == KindUnknown {
		return ev, nil
	}

	var err error
	if ev.RenewsAt, err = parseTimestamp(attrs.RenewsAt); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: renews_at: %v", ErrMalformedBody, err)
	}
	if ev.EndsAt, err = parseTimestamp(attrs.EndsAt); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: ends_at: %v", ErrMalformedBody, err)
	}
	return ev, nil
}

func parseTimestamp(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	ts = ts.UTC()
	return &ts, nil
}
