package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"donation-service/internal/charge"
	"donation-service/internal/db"
	"donation-service/internal/logcontext"
	"donation-service/internal/message"
	"donation-service/internal/pagou"
	"donation-service/internal/reconcile"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	sessionStartedCounter   = metrics.GetOrCreateCounter(`donation_session_total{result="started"}`)
	sessionFallbackCounter  = metrics.GetOrCreateCounter(`donation_session_total{result="fallback"}`)
	sessionRejectedCounter  = metrics.GetOrCreateCounter(`donation_session_total{result="rejected"}`)
	sessionCancelledCounter = metrics.GetOrCreateCounter(`donation_session_total{result="cancelled"}`)
)

// Gateway is the slice of the payment client the manager needs.
type Gateway interface {
	CreateCharge(ctx context.Context, req pagou.CreateChargeRequest) (*charge.Charge, error)
	FetchCharge(ctx context.Context, id string) (*charge.Charge, error)
	CancelCharge(ctx context.Context, id string) error
}

// Store is the durable charge state the manager keeps in sync.
type Store interface {
	Create(ctx context.Context, entity *db.ChargeEntity) (*db.ChargeEntity, error)
	UpdateProviderStatus(ctx context.Context, id string, status int) error
	MarkPaid(ctx context.Context, id string, paidAt time.Time, status int) (bool, error)
}

// Publisher carries session state changes to whoever is listening.
type Publisher interface {
	Publish(ctx context.Context, event message.DonationEvent) error
}

// Listener receives in-process session state change notifications.
type Listener func(ctx context.Context, s *Session, state State)

type DonationRequest struct {
	Amount        float64
	Description   string
	PayerName     string
	PayerDocument string
}

type Options struct {
	PollInterval       time.Duration
	HardTimeout        time.Duration
	ExpirationSeconds  int
	DefaultDescription string
	AllowFallback      bool
	Now                func() time.Time
}

// Manager orchestrates donation attempts: charge creation, one
// reconciliation loop per live session, webhook routing, cancellation.
type Manager struct {
	gateway   Gateway
	store     Store
	publisher Publisher
	opts      Options
	logger    *slog.Logger

	mu       sync.RWMutex
	byID     map[uuid.UUID]*Session
	byCharge map[string]*Session

	listenersMu sync.RWMutex
	listeners   []Listener
}

func NewManager(gateway Gateway, store Store, publisher Publisher, opts Options, logger *slog.Logger) *Manager {
	if opts.ExpirationSeconds <= 0 {
		opts.ExpirationSeconds = 1800
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		gateway:   gateway,
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		byID:      make(map[uuid.UUID]*Session),
		byCharge:  make(map[string]*Session),
	}
}

func (m *Manager) AddListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// StartDonation validates the request, creates the charge and starts the
// reconciliation loop for it. The amount is checked before any network
// call is made.
func (m *Manager) StartDonation(ctx context.Context, req DonationRequest) (*Session, error) {
	if req.Amount <= 0 {
		sessionRejectedCounter.Inc()
		return nil, &pagou.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	description := req.Description
	if description == "" {
		description = m.opts.DefaultDescription
	}

	createReq := pagou.CreateChargeRequest{
		Amount:            req.Amount,
		Description:       description,
		ExpirationSeconds: m.opts.ExpirationSeconds,
	}
	if req.PayerName != "" || req.PayerDocument != "" {
		createReq.Payer = &pagou.Payer{Name: req.PayerName, Document: req.PayerDocument}
	}

	ch, err := m.gateway.CreateCharge(ctx, createReq)
	if err != nil {
		if !m.opts.AllowFallback || pagou.IsValidation(err) {
			return nil, err
		}
		// demo continuity: mint a local stand-in that can never be paid
		m.logger.WarnContext(ctx, "Charge creation failed, falling back to simulated charge", "error", err)
		sessionFallbackCounter.Inc()
		ch = m.simulatedCharge(req, description)
	}

	now := m.opts.Now()
	if ch.ExpiresAt.IsZero() {
		ch.ExpiresAt = now.Add(time.Duration(m.opts.ExpirationSeconds) * time.Second)
	}

	sessionID := uuid.New()
	entity := &db.ChargeEntity{
		ID:             ch.ID,
		SessionID:      sessionID,
		Amount:         ch.Amount,
		Description:    ch.Description,
		PayerName:      ch.PayerName,
		PayerDocument:  ch.PayerDocument,
		QRPayload:      ch.QRPayload,
		QRImage:        ch.QRImage,
		ProviderStatus: int(ch.ProviderStatus),
		PaidAt:         ch.PaidAt,
		Simulated:      ch.Simulated,
		CreatedAt:      ch.CreatedAt,
	}
	if !ch.ExpiresAt.IsZero() {
		expiresAt := ch.ExpiresAt
		entity.ExpiresAt = &expiresAt
	}
	if _, err := m.store.Create(ctx, entity); err != nil {
		return nil, errors.Wrap(err, "persisting charge")
	}

	s := &Session{
		ID:        sessionID,
		Charge:    ch,
		StartedAt: now,
		rec:       charge.NewReconciler(ch),
	}
	s.state.Store(int32(Pending))

	m.mu.Lock()
	m.byID[sessionID] = s
	m.byCharge[ch.ID] = s
	m.mu.Unlock()

	if !ch.Simulated {
		s.poller = reconcile.NewPoller(m.gateway, s.rec, reconcile.Options{
			PollInterval: m.opts.PollInterval,
			HardTimeout:  m.opts.HardTimeout,
			Now:          m.opts.Now,
			OnChange: func(ctx context.Context, u charge.Update, out charge.Outcome) {
				m.handleChange(ctx, s, u, out)
			},
			OnError: func(ctx context.Context, err error) {
				m.logger.ErrorContext(ctx, "Unrecoverable poll error", "error", err, "sessionId", s.ID.String())
			},
		}, m.logger)
		// the loop outlives the request that started it
		s.poller.Start(context.WithoutCancel(ctx))
	}

	sessionStartedCounter.Inc()
	m.logger.InfoContext(ctx, "Donation session started",
		"sessionId", sessionID.String(), "chargeId", ch.ID, "amount", ch.Amount, "simulated", ch.Simulated)

	m.emit(ctx, s, Pending)
	return s, nil
}

// Cancel stops the session's loop and marks it cancelled by the user.
// Idempotent; a payment confirmation already latched always wins and is
// never undone.
func (m *Manager) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	m.mu.RLock()
	s := m.byID[sessionID]
	m.mu.RUnlock()

	if s == nil {
		m.logger.InfoContext(ctx, "Cancel for unknown session", "sessionId", sessionID.String())
		return nil
	}
	if !s.cancelled.CompareAndSwap(false, true) {
		return nil
	}

	if s.poller != nil {
		s.poller.Stop()
	}

	if s.rec.State() == charge.Paid {
		m.logger.InfoContext(ctx, "Cancel after payment confirmation, keeping paid state",
			"sessionId", sessionID.String(), "chargeId", s.ChargeID())
		return nil
	}

	s.state.Store(int32(CancelledByUser))
	sessionCancelledCounter.Inc()

	if !s.Charge.Simulated {
		if err := m.gateway.CancelCharge(ctx, s.ChargeID()); err != nil {
			m.logger.WarnContext(ctx, "Provider-side cancel failed", "error", err, "chargeId", s.ChargeID())
		}
	}
	if err := m.store.UpdateProviderStatus(ctx, s.ChargeID(), int(charge.StatusCancelled)); err != nil {
		m.logger.ErrorContext(ctx, "Error persisting cancellation", "error", err, "chargeId", s.ChargeID())
	}

	m.emit(ctx, s, CancelledByUser)
	m.unregister(s)
	return nil
}

// ApplyUpdate feeds a normalized update into the live session for the
// charge, if any. Updates for unknown charges only touch the store and
// are handled by the webhook ingress directly.
func (m *Manager) ApplyUpdate(ctx context.Context, u charge.Update) {
	m.mu.RLock()
	s := m.byCharge[u.ChargeID]
	m.mu.RUnlock()

	if s == nil {
		return
	}

	out := s.rec.Apply(u)
	if out.Changed {
		m.handleChange(ctx, s, u, out)
	}
}

func (m *Manager) GetSession(sessionID uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[sessionID]
	return s, ok
}

func (m *Manager) GetSessionByCharge(chargeID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byCharge[chargeID]
	return s, ok
}

func (m *Manager) handleChange(ctx context.Context, s *Session, u charge.Update, out charge.Outcome) {
	ctx = logcontext.AppendCtx(ctx,
		slog.String("sessionId", s.ID.String()),
		slog.String("chargeId", s.ChargeID()))

	if out.Latched && u.PaidAt != nil {
		latched, err := m.store.MarkPaid(ctx, s.ChargeID(), *u.PaidAt, int(u.ProviderStatus))
		if err != nil {
			m.logger.ErrorContext(ctx, "Error persisting payment", "error", err)
		} else if !latched {
			m.logger.InfoContext(ctx, "Payment already persisted")
		}
	} else if err := m.store.UpdateProviderStatus(ctx, s.ChargeID(), int(u.ProviderStatus)); err != nil {
		m.logger.ErrorContext(ctx, "Error persisting provider status", "error", err)
	}

	state := stateFromLifecycle(out.State)
	s.state.Store(int32(state))

	m.logger.InfoContext(ctx, "Session state changed",
		"from", out.Previous.String(), "to", out.State.String(), "source", string(u.Source))

	m.emit(ctx, s, state)

	if state.Terminal() {
		if s.poller != nil {
			s.poller.Stop()
		}
		m.unregister(s)
	}
}

func (m *Manager) emit(ctx context.Context, s *Session, state State) {
	m.listenersMu.RLock()
	listeners := m.listeners
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ctx, s, state)
	}

	if m.publisher == nil {
		return
	}
	event := message.DonationEvent{
		ID:         uuid.New(),
		Type:       eventType(state),
		SessionID:  s.ID,
		ChargeID:   s.ChargeID(),
		Amount:     s.Charge.Amount,
		PayerName:  s.Charge.PayerName,
		PaidAt:     s.PaidAt(),
		OccurredAt: m.opts.Now(),
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.ErrorContext(ctx, "Error publishing donation event", "error", err)
	}
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	delete(m.byID, s.ID)
	delete(m.byCharge, s.ChargeID())
	m.mu.Unlock()
}

// simulatedCharge mints a local stand-in when the provider is down. It
// is flagged so it is never polled and can never latch a payment.
func (m *Manager) simulatedCharge(req DonationRequest, description string) *charge.Charge {
	now := m.opts.Now()
	id := "local-" + uuid.New().String()
	payload := fmt.Sprintf("00020126580014br.gov.bcb.pix0136%s5204000053039865802BR5913IGREJA ELO 426009SAO PAULO62070503***6304E8B7", id)
	return &charge.Charge{
		ID:          id,
		Amount:      req.Amount,
		Description: description,
		PayerName:   req.PayerName,
		QRPayload:   payload,
		QRImage:     "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=" + url.QueryEscape(payload),
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(m.opts.ExpirationSeconds) * time.Second),
		Simulated:   true,
	}
}

func eventType(state State) string {
	switch state {
	case Processing:
		return message.DonationProcessing
	case Paid:
		return message.DonationPaid
	case Expired:
		return message.DonationExpired
	case Cancelled, CancelledByUser:
		return message.DonationCancelled
	default:
		return message.DonationPending
	}
}
