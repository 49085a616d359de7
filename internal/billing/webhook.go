package billing

import (
	"context"
	"errors"
	"time"

	"premiumsync/internal/logging"
	"premiumsync/internal/store"
)

const (
	outcomeInvalidSignature = "invalid_signature"
	outcomeMalformed        = "malformed"
	outcomeStoreFailure     = "store_failure"
)

// EventLog is the append-only record of deliveries keyed by provider event id.
type EventLog interface {
	InsertWebhookEventIfAbsent(ctx context.Context, ev store.WebhookEvent) (bool, string, error)
	UpdateWebhookEventStatus(ctx context.Context, provider, externalEventID, status, errMsg string) error
}

type Recorder interface {
	WebhookHandled(kind, outcome string, elapsed time.Duration)
	StoreFailure(userID string, err error)
}

type WebhookConfig struct {
	Provider string
	Secret   []byte
	// StoreID, when set, drops events that belong to another store on the
	// same provider account.
	StoreID string
}

// Result describes how a delivery was resolved.
type Result struct {
	Kind    Kind
	Outcome Outcome
	UserID  string
	EventID string
}

// Service runs the full inbound pipeline: verify, parse, log, dispatch.
type Service struct {
	Config     WebhookConfig
	Parser     *Parser
	Dispatcher *Dispatcher
	Events     EventLog
	Recorder   Recorder
	Now        func() time.Time
}

func NewService(cfg WebhookConfig, parser *Parser, dispatcher *Dispatcher, events EventLog, recorder Recorder) *Service {
	if cfg.Provider == "" {
		cfg.Provider = "lemonsqueezy"
	}
	return &Service{
		Config:     cfg,
		Parser:     parser,
		Dispatcher: dispatcher,
		Events:     events,
		Recorder:   recorder,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessWebhook returns ErrInvalidSignature, ErrMalformedBody or a
// *StoreError; every other condition is a successful Result.
func (s *Service) ProcessWebhook(ctx context.Context, rawBody []byte, signature string) (res Result, err error) {
	start := s.now()
	logger := logging.FromContext(ctx)
	defer func() {
		outcome := string(res.Outcome)
		switch {
		case errors.Is(err, ErrInvalidSignature):
			outcome = outcomeInvalidSignature
		case errors.Is(err, ErrMalformedBody):
			outcome = outcomeMalformed
		case err != nil:
			outcome = outcomeStoreFailure
		}
		s.record(string(res.Kind), outcome, s.now().Sub(start))
	}()

	if !Verify(rawBody, signature, s.Config.Secret) {
		logger.Warn().Bool("security", true).Int("body_bytes", len(rawBody)).Msg("rejected billing webhook with invalid signature")
		return Result{}, ErrInvalidSignature
	}

	ev, err := s.Parser.Parse(rawBody)
	if err != nil {
		logger.Warn().Err(err).Msg("rejected malformed billing webhook")
		return Result{}, err
	}
	res = Result{Kind: ev.Kind, UserID: ev.UserID, EventID: ev.EventID}
	if res.EventID == "" {
		res.EventID = sha256Hex(rawBody)
	}

	row := store.WebhookEvent{
		Provider:        s.Config.Provider,
		ExternalEventID: res.EventID,
		EventName:       ev.EventName,
		UserID:          ev.UserID,
		PayloadHash:     sha256Hex(rawBody),
	}

	// Events that can never mutate an entitlement are acknowledged even when
	// the event log is unavailable.
	if ev.Kind == KindUnknown || ev.UserID == "" {
		outcome, reason := OutcomeUnknownKind, string(OutcomeUnknownKind)
		if ev.Kind != KindUnknown {
			outcome, reason = OutcomeUnattributable, ErrUnattributable.Error()
		}
		logger.Info().Str("event_name", ev.EventName).Str("outcome", string(outcome)).Msg("billing webhook acknowledged without change")
		res.Outcome = outcome
		s.logIgnored(ctx, row, reason)
		return res, nil
	}

	inserted, status, err := s.Events.InsertWebhookEventIfAbsent(ctx, row)
	if err != nil {
		s.storeFailure(ev.UserID, err)
		return res, &StoreError{UserID: ev.UserID, Err: err}
	}
	if !inserted && (status == store.WebhookStatusProcessed || status == store.WebhookStatusIgnored) {
		logger.Info().Str("event_id", res.EventID).Str("prior_status", status).Msg("duplicate billing webhook acknowledged")
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	if s.Config.StoreID != "" && ev.StoreID != "" && ev.StoreID != s.Config.StoreID {
		logger.Info().Str("store_id", ev.StoreID).Msg("billing webhook for another store ignored")
		res.Outcome = OutcomeForeignStore
		s.markEvent(ctx, res.EventID, store.WebhookStatusIgnored, string(OutcomeForeignStore))
		return res, nil
	}

	outcome, err := s.Dispatcher.Apply(ctx, ev)
	if err != nil {
		s.storeFailure(ev.UserID, err)
		s.markEvent(ctx, res.EventID, store.WebhookStatusFailed, err.Error())
		return res, err
	}
	res.Outcome = outcome

	if outcome == OutcomeApplied {
		s.markEvent(ctx, res.EventID, store.WebhookStatusProcessed, "")
	} else {
		s.markEvent(ctx, res.EventID, store.WebhookStatusIgnored, string(outcome))
	}
	return res, nil
}

// logIgnored records a no-op delivery on a best-effort basis.
func (s *Service) logIgnored(ctx context.Context, row store.WebhookEvent, reason string) {
	inserted, status, err := s.Events.InsertWebhookEventIfAbsent(ctx, row)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("event_id", row.ExternalEventID).Msg("record ignored webhook event")
		return
	}
	if inserted || status != store.WebhookStatusIgnored {
		s.markEvent(ctx, row.ExternalEventID, store.WebhookStatusIgnored, reason)
	}
}

// markEvent failures are logged only: the entitlement write already
// committed and a redelivery would re-apply the same upsert.
func (s *Service) markEvent(ctx context.Context, eventID, status, reason string) {
	if err := s.Events.UpdateWebhookEventStatus(ctx, s.Config.Provider, eventID, status, reason); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("event_id", eventID).Str("status", status).Msg("update webhook event status")
	}
}

func (s *Service) storeFailure(userID string, err error) {
	if s.Recorder != nil {
		s.Recorder.StoreFailure(userID, err)
	}
}

func (s *Service) record(kind, outcome string, elapsed time.Duration) {
	if s.Recorder != nil {
		s.Recorder.WebhookHandled(kind, outcome, elapsed)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
