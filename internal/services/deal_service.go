package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/escrowdesk/backend/internal/apperr"
	"github.com/escrowdesk/backend/internal/events"
	"github.com/escrowdesk/backend/internal/metrics"
	"github.com/escrowdesk/backend/internal/models"
	"github.com/escrowdesk/backend/internal/rbac"
	"github.com/escrowdesk/backend/internal/repositories"
	"github.com/escrowdesk/backend/internal/secrets"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Actor types recorded in the audit log
const (
	ActorUser   = "user"
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

// DepositScheduler arms and disarms the delayed deposit check for a deal.
type DepositScheduler interface {
	Schedule(dealID int64, delay time.Duration)
	Cancel(dealID int64) bool
}

type DepositOptions struct {
	VerifyDelay time.Duration
	Address     string
}

type DealService struct {
	store     repositories.DealStore
	audit     repositories.AuditStore
	issuer    *secrets.Issuer
	scheduler DepositScheduler
	publisher events.Publisher
	admins    AdminSet
	deposit   DepositOptions
	now       func() time.Time
	log       *zap.Logger
}

func NewDealService(
	store repositories.DealStore,
	audit repositories.AuditStore,
	issuer *secrets.Issuer,
	scheduler DepositScheduler,
	publisher events.Publisher,
	admins AdminSet,
	deposit DepositOptions,
	log *zap.Logger,
) *DealService {
	return &DealService{
		store:     store,
		audit:     audit,
		issuer:    issuer,
		scheduler: scheduler,
		publisher: publisher,
		admins:    admins,
		deposit:   deposit,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

func (s *DealService) IsAdmin(c models.Caller) bool {
	return c.TelegramID > 0 && s.admins.Contains(c.TelegramID)
}

// roleOf resolves the caller's role. d may be nil for checks that do not depend on a deal.
func (s *DealService) roleOf(c models.Caller, d *models.Deal) string {
	return rbac.Resolve(s.IsAdmin(c), d != nil && d.IsParticipant(c))
}

func actorType(admin bool) string {
	if admin {
		return ActorAdmin
	}
	return ActorUser
}

func actorID(c models.Caller) *int64 {
	if c.TelegramID <= 0 {
		return nil
	}
	id := c.TelegramID
	return &id
}

// authorize checks perm against the caller's role. d may be nil for checks that do not depend on a deal.
func (s *DealService) authorize(c models.Caller, d *models.Deal, perm string) error {
	if role := s.roleOf(c, d); !rbac.HasPermission(role, perm) {
		return apperr.Unauthorizedf("%s is not permitted for role %s", perm, role)
	}
	return nil
}

// transition runs a read-check-write for op under the store's row lock. apply
// performs the status and balance side effects on an already legal deal.
// An empty perm skips the role check; only system operations pass one.
func (s *DealService) transition(
	ctx context.Context,
	dealID int64,
	op, perm string,
	actor models.Caller,
	actorKind string,
	apply func(d *models.Deal) error,
) (*models.Deal, string, error) {
	var oldStatus string
	deal, err := s.store.Mutate(ctx, dealID, func(d *models.Deal) error {
		if !models.CanApply(op, d.Status) {
			return apperr.IllegalTransition(op, d.Status)
		}
		if perm != "" {
			if err := s.authorize(actor, d, perm); err != nil {
				return err
			}
		}
		oldStatus = d.Status
		if err := apply(d); err != nil {
			return err
		}
		if d.Status != oldStatus && !models.IsValidTransition(oldStatus, d.Status) {
			return fmt.Errorf("%s produced invalid transition %s -> %s", op, oldStatus, d.Status)
		}
		if models.IsTerminal(d.Status) {
			d.EscrowBalance = decimal.Zero
			d.DepositRequestedAt = nil
		}
		return nil
	})
	if err != nil {
		s.rejected(op, dealID, err)
		return nil, "", err
	}

	financial := rbac.IsFinancialOperation(perm)
	metrics.DealTransitions.WithLabelValues(op, deal.Status).Inc()
	s.log.Info("deal transition",
		zap.Int64("deal_id", deal.ID),
		zap.String("op", op),
		zap.String("old_status", oldStatus),
		zap.String("new_status", deal.Status),
		zap.Bool("financial", financial),
	)

	meta := map[string]any{
		"old_status": oldStatus,
		"new_status": deal.Status,
	}
	if financial {
		meta["financial"] = true
	}
	s.record(ctx, deal.ID, actor, actorKind, op, meta)

	if deal.Status != oldStatus {
		s.publish(ctx, events.EventDealStatusChanged, deal, map[string]any{
			"op":         op,
			"old_status": oldStatus,
			"new_status": deal.Status,
		})
	}
	return deal, oldStatus, nil
}

func (s *DealService) rejected(op string, dealID int64, err error) {
	reason := "error"
	switch {
	case apperr.IsNotFound(err):
		reason = "not_found"
	case apperr.IsUnauthorized(err):
		reason = "unauthorized"
	case apperr.IsValidation(err):
		reason = "validation"
	default:
		if _, ok := apperr.AsIllegalTransition(err); ok {
			reason = "illegal_transition"
		} else {
			s.log.Error("deal operation failed", zap.Int64("deal_id", dealID), zap.String("op", op), zap.Error(err))
		}
	}
	metrics.RejectedOperations.WithLabelValues(op, reason).Inc()
}

func (s *DealService) record(ctx context.Context, dealID int64, actor models.Caller, actorKind, action string, meta map[string]any) {
	err := s.audit.Log(ctx, models.AuditLog{
		DealID:      dealID,
		ActorUserID: actorID(actor),
		ActorType:   actorKind,
		Action:      action,
		Meta:        meta,
	})
	if err != nil {
		s.log.Warn("audit log write failed", zap.Int64("deal_id", dealID), zap.String("action", action), zap.Error(err))
	}
}

func (s *DealService) publish(ctx context.Context, eventType string, deal *models.Deal, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["deal_id"] = deal.ID
	payload["status"] = deal.Status
	if _, ok := payload["recipients"]; !ok {
		payload["recipients"] = recipients(deal, true, true)
	}
	if err := s.publisher.Publish(ctx, events.StreamDeals, events.Event{Type: eventType, Payload: payload}); err != nil {
		s.log.Warn("event publish failed", zap.Int64("deal_id", deal.ID), zap.String("type", eventType), zap.Error(err))
	}
}

// recipients lists resolved Telegram ids to notify. Handle-only parties cannot be messaged.
func recipients(d *models.Deal, buyer, seller bool) []int64 {
	out := []int64{}
	if buyer && d.Buyer.IsResolved() {
		out = append(out, *d.Buyer.TelegramID)
	}
	if seller && d.Seller.IsResolved() && (!buyer || !d.Buyer.IsResolved() || *d.Seller.TelegramID != *d.Buyer.TelegramID) {
		out = append(out, *d.Seller.TelegramID)
	}
	return out
}

func (s *DealService) CreateDeal(ctx context.Context, actor models.Caller, in models.NewDealInput) (*models.Deal, error) {
	if err := s.authorize(actor, nil, rbac.PermCreateDeal); err != nil {
		return nil, err
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	deal := &models.Deal{
		Buyer:         in.Buyer,
		Seller:        in.Seller,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Description:   in.Description,
		Status:        models.DealStatusNew,
		EscrowBalance: decimal.Zero,
	}
	if err := s.store.Create(ctx, deal); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}

	// GetSecretHalf issues lazily, so a failure here does not fail creation.
	if _, err := s.issuer.EnsureIssued(ctx, deal); err != nil {
		s.log.Warn("secret issuance deferred", zap.Int64("deal_id", deal.ID), zap.Error(err))
	}

	s.log.Info("deal created",
		zap.Int64("deal_id", deal.ID),
		zap.String("amount", deal.Amount.String()),
		zap.String("currency", deal.Currency),
	)
	s.record(ctx, deal.ID, actor, ActorUser, "deal_created", map[string]any{
		"amount":   deal.Amount.String(),
		"currency": deal.Currency,
	})
	s.publish(ctx, events.EventDealCreated, deal, nil)
	return deal, nil
}

func (s *DealService) GetDeal(ctx context.Context, id int64) (*models.Deal, error) {
	return s.store.GetByID(ctx, id)
}

// ListDealsFor returns deals where the caller is buyer or seller, by id or by handle.
func (s *DealService) ListDealsFor(ctx context.Context, c models.Caller) ([]models.Deal, error) {
	return s.store.ListByParticipant(ctx, c.TelegramID, models.NormalizeHandle(c.Username))
}

// FindByHandle lists deals naming handle on either side.
func (s *DealService) FindByHandle(ctx context.Context, c models.Caller, handle string) ([]models.Deal, error) {
	if err := s.authorize(c, nil, rbac.PermFindDeals); err != nil {
		return nil, err
	}
	h := models.NormalizeHandle(handle)
	if h == "" {
		return nil, apperr.Validation("handle", "username is required")
	}
	return s.store.ListByParticipant(ctx, 0, h)
}

func (s *DealService) ListAllDeals(ctx context.Context, c models.Caller, f repositories.DealFilter) ([]models.Deal, error) {
	if err := s.authorize(c, nil, rbac.PermListAll); err != nil {
		return nil, err
	}
	if f.Status != nil && !models.IsValidStatus(*f.Status) {
		return nil, apperr.Validation("status", "unknown status "+*f.Status)
	}
	return s.store.ListAll(ctx, f)
}

func (s *DealService) InitiateDeposit(ctx context.Context, id int64, actor models.Caller) (*models.Deal, error) {
	deal, _, err := s.transition(ctx, id, models.OpInitiateDeposit, rbac.PermInitiateDeposit, actor, actorType(s.IsAdmin(actor)), func(d *models.Deal) error {
		now := s.now()
		d.Status = models.DealStatusPendingDeposit
		d.DepositRequestedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.issuer.EnsureIssued(ctx, deal); err != nil {
		s.log.Warn("secret issuance deferred", zap.Int64("deal_id", deal.ID), zap.Error(err))
	}
	s.scheduler.Schedule(deal.ID, s.deposit.VerifyDelay)
	return deal, nil
}

// RetryDeposit re-arms the check for a deal whose previous check came back negative.
// It is never triggered automatically.
func (s *DealService) RetryDeposit(ctx context.Context, id int64, actor models.Caller) (*models.Deal, error) {
	admin := s.IsAdmin(actor)
	deal, _, err := s.transition(ctx, id, models.OpRetryDeposit, rbac.PermRetryDeposit, actor, actorType(admin), func(d *models.Deal) error {
		if d.DepositRequestedAt != nil {
			return &apperr.IllegalTransitionError{
				Op:     models.OpRetryDeposit,
				Status: d.Status,
				Reason: "a deposit check is already scheduled",
			}
		}
		now := s.now()
		d.DepositRequestedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.scheduler.Schedule(deal.ID, s.deposit.VerifyDelay)
	return deal, nil
}

func (s *DealService) MarkDelivered(ctx context.Context, id int64, actor models.Caller) (*models.Deal, error) {
	deal, _, err := s.transition(ctx, id, models.OpMarkDelivered, rbac.PermMarkDelivered, actor, actorType(s.IsAdmin(actor)), func(d *models.Deal) error {
		d.Status = models.DealStatusDelivered
		return nil
	})
	return deal, err
}

func (s *DealService) Release(ctx context.Context, id int64, actor models.Caller) (*models.Deal, error) {
	deal, _, err := s.transition(ctx, id, models.OpRelease, rbac.PermRelease, actor, actorType(s.IsAdmin(actor)), func(d *models.Deal) error {
		d.Status = models.DealStatusReleased
		d.EscrowBalance = decimal.Zero
		return nil
	})
	return deal, err
}

func (s *DealService) OpenDispute(ctx context.Context, id int64, actor models.Caller) (*models.Deal, error) {
	deal, _, err := s.transition(ctx, id, models.OpOpenDispute, rbac.PermOpenDispute, actor, actorType(s.IsAdmin(actor)), func(d *models.Deal) error {
		d.Status = models.DealStatusDisputed
		return nil
	})
	return deal, err
}

// Resolve closes a deal in favour of winner. The balance is zeroed whichever side wins.
func (s *DealService) Resolve(ctx context.Context, id int64, winner string, actor models.Caller) (*models.Deal, error) {
	if err := s.authorize(actor, nil, rbac.PermResolve); err != nil {
		s.rejected(models.OpResolve, id, err)
		return nil, err
	}
	winner = strings.ToLower(strings.TrimSpace(winner))
	if winner != models.WinnerBuyer && winner != models.WinnerSeller {
		return nil, apperr.Validation("winner", "must be 'buyer' or 'seller'")
	}

	deal, _, err := s.transition(ctx, id, models.OpResolve, rbac.PermResolve, actor, ActorAdmin, func(d *models.Deal) error {
		d.Status = models.DealStatusResolved
		d.ResolutionWinner = &winner
		d.EscrowBalance = decimal.Zero
		return nil
	})
	return deal, err
}

func (s *DealService) Cancel(ctx context.Context, id int64, actor models.Caller) (*models.Deal, error) {
	if err := s.authorize(actor, nil, rbac.PermCancel); err != nil {
		s.rejected(models.OpCancel, id, err)
		return nil, err
	}

	deal, old, err := s.transition(ctx, id, models.OpCancel, rbac.PermCancel, actor, ActorAdmin, func(d *models.Deal) error {
		d.Status = models.DealStatusCanceled
		d.EscrowBalance = decimal.Zero
		d.DepositRequestedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if old == models.DealStatusPendingDeposit {
		s.scheduler.Cancel(deal.ID)
	}
	return deal, nil
}

// ApplyDepositResult records the outcome of a deposit check. A positive result
// funds the deal with exactly its amount; a negative one leaves it pending.
func (s *DealService) ApplyDepositResult(ctx context.Context, id int64, observed bool) (*models.Deal, error) {
	deal, _, err := s.transition(ctx, id, models.OpVerifyDeposit, "", models.Caller{}, ActorSystem, func(d *models.Deal) error {
		d.DepositRequestedAt = nil
		if observed {
			d.Status = models.DealStatusFunded
			d.EscrowBalance = d.Amount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if observed {
		metrics.DepositChecks.WithLabelValues(metrics.OutcomeObserved).Inc()
		s.publish(ctx, events.EventDepositVerified, deal, map[string]any{
			"text": fmt.Sprintf("Deposit verified for deal #%d: %s %s is now held in escrow.",
				deal.ID, deal.Amount.StringFixed(2), deal.Currency),
		})
	} else {
		metrics.DepositChecks.WithLabelValues(metrics.OutcomeMissing).Inc()
		s.publish(ctx, events.EventDepositFailed, deal, map[string]any{
			"recipients": recipients(deal, true, false),
			"text": fmt.Sprintf("No deposit was found for deal #%d. Check the amount and address, then request a new check.",
				deal.ID),
		})
	}
	return deal, nil
}

// VerifyDeposit is the entry point for the verification scheduler. A deal that
// vanished or left PENDING_DEPOSIT before the check fired is logged and skipped.
func (s *DealService) VerifyDeposit(ctx context.Context, id int64, observed bool) error {
	_, err := s.ApplyDepositResult(ctx, id, observed)
	if err == nil {
		return nil
	}
	if it, ok := apperr.AsIllegalTransition(err); ok {
		metrics.DepositChecks.WithLabelValues(metrics.OutcomeStale).Inc()
		s.log.Info("stale deposit check skipped", zap.Int64("deal_id", id), zap.String("status", it.Status))
		return nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		metrics.DepositChecks.WithLabelValues(metrics.OutcomeStale).Inc()
		s.log.Info("deposit check for missing deal skipped", zap.Int64("deal_id", id))
		return nil
	}
	return err
}

// GetSecretHalf returns the half belonging to the caller's side of the deal.
func (s *DealService) GetSecretHalf(ctx context.Context, id int64, c models.Caller) (string, error) {
	deal, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	role, ok := deal.RoleOf(c)
	if !ok {
		return "", apperr.Unauthorizedf("caller is neither buyer nor seller on deal %d", id)
	}

	halves, err := s.issuer.EnsureIssued(ctx, deal)
	if err != nil {
		return "", err
	}
	s.record(ctx, deal.ID, c, ActorUser, "secret_half_viewed", map[string]any{"role": role})

	if role == models.WinnerBuyer {
		return *halves.BuyerHalf, nil
	}
	return *halves.SellerHalf, nil
}

func (s *DealService) GetDealEvents(ctx context.Context, id int64) ([]models.AuditLog, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.GetByDeal(ctx, id, 100, 0)
}

// RearmPending re-schedules checks that were armed before a restart, keeping
// their original due time. Overdue checks fire immediately.
func (s *DealService) RearmPending(ctx context.Context) (int, error) {
	deals, err := s.store.ListAwaitingVerification(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending deposits: %w", err)
	}
	now := s.now()
	for _, d := range deals {
		delay := d.DepositRequestedAt.Add(s.deposit.VerifyDelay).Sub(now)
		if delay < 0 {
			delay = 0
		}
		s.scheduler.Schedule(d.ID, delay)
	}
	if len(deals) > 0 {
		s.log.Info("re-armed pending deposit checks", zap.Int("count", len(deals)))
	}
	return len(deals), nil
}
