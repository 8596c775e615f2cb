package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AccessService is the orchestrator surface consumed by commands, queries and
// billing ingress.
type AccessService interface {
	Grant(ctx context.Context, req GrantRequest) (OperationSummary, error)
	Revoke(ctx context.Context, req RevokeRequest) (OperationSummary, error)
	Renew(ctx context.Context, req RenewRequest) (OperationSummary, error)
	VerifyUsername(ctx context.Context, userID string) (bool, error)

	OnPurchaseCompleted(ctx context.Context, event PurchaseCompleted) (BillingEventResult, error)
	OnSubscriptionRenewed(ctx context.Context, event SubscriptionRenewed) (BillingEventResult, error)
	OnSubscriptionCanceled(ctx context.Context, event SubscriptionCanceled) (BillingEventResult, error)
	HandleBillingEvent(ctx context.Context, event BillingEvent) (BillingEventResult, error)

	AccessSummary(ctx context.Context, userID string) (AccessSummaryCounts, error)
	AuditTrail(ctx context.Context, filter AuditFilter) (AuditPage, error)
	ListFailedGrants(ctx context.Context, userID string) ([]AccessGrant, error)
}

// Grant gives a verified user access to one or more active indicators with a
// single batched platform call, then upserts one ledger row and one event per
// indicator.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (summary OperationSummary, err error) {
	startedAt := time.Now()
	req.UserID = strings.TrimSpace(req.UserID)
	req.IndicatorIDs = normalizeIDs(req.IndicatorIDs)
	if req.Source == "" {
		req.Source = AccessSourceManual
	}
	req.Actor = defaultActor(req.Actor)
	fields := map[string]any{
		"user_id":    req.UserID,
		"indicators": len(req.IndicatorIDs),
		"duration":   string(req.Duration),
		"source":     string(req.Source),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "grant", err, fields)
	}()

	if err = s.requireMutationDeps(); err != nil {
		return OperationSummary{}, s.mapError(err)
	}
	if err = validateGrantRequest(&req); err != nil {
		return OperationSummary{}, s.mapError(err)
	}
	user, err := s.verifiedUser(ctx, req.UserID)
	if err != nil {
		return OperationSummary{}, s.mapError(err)
	}
	indicators, err := s.resolveGrantIndicators(ctx, req.IndicatorIDs)
	if err != nil {
		return OperationSummary{}, s.mapError(err)
	}

	summary = OperationSummary{Operation: OperationGrant, UserID: req.UserID, Details: []OperationDetail{}}
	err = s.withUserLock(ctx, req.UserID, func() error {
		scriptIDs := make([]string, 0, len(indicators))
		for _, indicator := range indicators {
			scriptIDs = append(scriptIDs, indicator.ExternalScriptID)
		}
		outcomes, callErr := s.gateway.Grant(ctx, user.ExternalUsername, scriptIDs, req.Duration)
		if callErr != nil {
			return callErr
		}
		indexed := indexOutcomes(scriptIDs, outcomes)
		now := s.clock()
		for _, indicator := range indicators {
			outcome := indexed[indicator.ExternalScriptID]
			prev, exists, findErr := s.ledgerStore.FindByUserIndicator(ctx, req.UserID, indicator.ID)
			if findErr != nil {
				return findErr
			}
			next, event := grantTransition(prev, exists, outcome, req, indicator.ID, now)
			stored, _, writeErr := s.ledgerStore.Write(ctx, GrantWrite{Grant: next, Event: event})
			if writeErr != nil {
				return writeErr
			}
			summary.add(OperationDetail{
				IndicatorID:      indicator.ID,
				ExternalScriptID: indicator.ExternalScriptID,
				GrantID:          stored.ID,
				Outcome:          event.Outcome,
				Status:           stored.Status,
				ExpiresAt:        cloneTime(stored.ExpiresAt),
				Error:            stored.ErrorMessage,
			})
		}
		return nil
	})
	fields["successful"] = summary.Successful
	fields["failed"] = summary.Failed
	if err != nil {
		return summary, s.mapError(err)
	}
	s.observeSummary(ctx, summary, string(req.Source))
	return summary, nil
}

// VerifyUsername asks the platform whether the user's external username exists
// and records the verification time when it does.
func (s *Service) VerifyUsername(ctx context.Context, userID string) (valid bool, err error) {
	startedAt := time.Now()
	userID = strings.TrimSpace(userID)
	fields := map[string]any{"user_id": userID}
	defer func() {
		fields["valid"] = valid
		s.observeOperation(ctx, startedAt, "verify_username", err, fields)
	}()

	if s == nil || s.gateway == nil || s.userDirectory == nil {
		return false, fmt.Errorf("core: gateway and user directory are required")
	}
	if userID == "" {
		return false, s.mapError(NewValidationError("user_id", "user id is required"))
	}
	user, err := s.userDirectory.GetUser(ctx, userID)
	if err != nil {
		return false, s.mapError(err)
	}
	username := strings.TrimSpace(user.ExternalUsername)
	if username == "" {
		return false, s.mapError(NewValidationError("external_username", "user has no external username"))
	}
	valid, err = s.gateway.ValidateUsername(ctx, username)
	if err != nil {
		return false, s.mapError(err)
	}
	if !valid {
		return false, nil
	}
	if err = s.userDirectory.MarkUsernameVerified(ctx, userID, username, s.clock()); err != nil {
		return false, s.mapError(err)
	}
	return true, nil
}

func validateGrantRequest(req *GrantRequest) error {
	if req.UserID == "" {
		return NewValidationError("user_id", "user id is required")
	}
	if len(req.IndicatorIDs) == 0 {
		return NewValidationError("indicator_ids", "at least one indicator is required")
	}
	duration, err := ParseDurationType(string(req.Duration))
	if err != nil {
		return NewValidationError("duration", err.Error())
	}
	req.Duration = duration
	if err := req.Source.Validate(); err != nil {
		return NewValidationError("source", err.Error())
	}
	return nil
}

func (s *Service) verifiedUser(ctx context.Context, userID string) (User, error) {
	user, err := s.userDirectory.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if strings.TrimSpace(user.ExternalUsername) == "" {
		return User{}, NewValidationError("external_username", "user has no external username")
	}
	if !user.HasVerifiedUsername() {
		return User{}, NewValidationError("external_username", "external username has not been verified")
	}
	return user, nil
}

// resolveGrantIndicators loads every requested indicator and rejects the whole
// request when any is unknown or inactive.
func (s *Service) resolveGrantIndicators(ctx context.Context, ids []string) ([]Indicator, error) {
	indicators := make([]Indicator, 0, len(ids))
	seenScripts := map[string]struct{}{}
	for _, id := range ids {
		indicator, err := s.indicatorCatalog.GetIndicator(ctx, id)
		if err != nil {
			if IsNotFoundError(err) {
				return nil, NewValidationError("indicator_ids", fmt.Sprintf("indicator %q does not exist", id))
			}
			return nil, err
		}
		if !indicator.Active {
			return nil, NewValidationError("indicator_ids", fmt.Sprintf("indicator %q is not active", id))
		}
		scriptID := strings.TrimSpace(indicator.ExternalScriptID)
		if scriptID == "" {
			return nil, NewValidationError("indicator_ids", fmt.Sprintf("indicator %q has no external script id", id))
		}
		if _, dup := seenScripts[scriptID]; dup {
			continue
		}
		seenScripts[scriptID] = struct{}{}
		indicators = append(indicators, indicator)
	}
	return indicators, nil
}

// userGrants loads the requested grants and checks they belong to userID.
func (s *Service) userGrants(ctx context.Context, userID string, grantIDs []string) ([]AccessGrant, error) {
	grants := make([]AccessGrant, 0, len(grantIDs))
	for _, id := range grantIDs {
		grant, err := s.ledgerStore.Get(ctx, id)
		if err != nil {
			if IsNotFoundError(err) {
				return nil, NewValidationError("grant_ids", fmt.Sprintf("grant %q does not exist", id))
			}
			return nil, err
		}
		if grant.UserID != userID {
			return nil, NewValidationError("grant_ids", fmt.Sprintf("grant %q does not belong to user", id))
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

func defaultActor(actor string) string {
	if trimmed := strings.TrimSpace(actor); trimmed != "" {
		return trimmed
	}
	return "system"
}
