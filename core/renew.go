package core

import (
	"context"
	"sort"
	"strings"
	"time"
)

const (
	lifetimeRenewalSkipMessage = "lifetime access does not expire"
	billingRenewalSkipMessage  = "already renewed by this billing event"
)

// Renew extends active grants. The replace endpoint is preferred so the
// platform lands on an absolute expiration; the additive grant call is the
// fallback when replace is unavailable or disabled.
func (s *Service) Renew(ctx context.Context, req RenewRequest) (summary OperationSummary, err error) {
	startedAt := time.Now()
	req.UserID = strings.TrimSpace(req.UserID)
	req.GrantIDs = normalizeIDs(req.GrantIDs)
	if req.Source == "" {
		req.Source = AccessSourceRenewal
	}
	req.Actor = defaultActor(req.Actor)
	fields := map[string]any{
		"user_id":  req.UserID,
		"grants":   len(req.GrantIDs),
		"duration": string(req.Duration),
		"source":   string(req.Source),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "renew", err, fields)
	}()

	if err = s.requireMutationDeps(); err != nil {
		return OperationSummary{}, s.mapError(err)
	}
	if err = validateRenewRequest(&req); err != nil {
		return OperationSummary{}, s.mapError(err)
	}
	user, err := s.verifiedUser(ctx, req.UserID)
	if err != nil {
		return OperationSummary{}, s.mapError(err)
	}
	strategy := s.resolveRenewalStrategy(ctx, req)
	fields["strategy"] = strategy

	summary = OperationSummary{Operation: OperationRenew, UserID: req.UserID, Details: []OperationDetail{}}
	err = s.withUserLock(ctx, req.UserID, func() error {
		grants, loadErr := s.userGrants(ctx, req.UserID, req.GrantIDs)
		if loadErr != nil {
			return loadErr
		}
		eligible := make([]renewalTarget, 0, len(grants))
		for _, grant := range grants {
			indicator, indicatorErr := s.indicatorCatalog.GetIndicator(ctx, grant.IndicatorID)
			if indicatorErr != nil {
				return indicatorErr
			}
			detail := OperationDetail{
				IndicatorID:      grant.IndicatorID,
				ExternalScriptID: indicator.ExternalScriptID,
				GrantID:          grant.ID,
				Status:           grant.Status,
				ExpiresAt:        cloneTime(grant.ExpiresAt),
				Skipped:          true,
			}
			switch {
			case grant.Status != GrantStatusActive:
				detail.Outcome = OutcomeFailure
				detail.Error = "grant is " + string(grant.Status) + ", only active grants can be renewed"
				summary.add(detail)
			case grant.DurationType.IsLifetime() && grant.ExpiresAt == nil:
				detail.Outcome = OutcomeSuccess
				detail.Error = lifetimeRenewalSkipMessage
				summary.add(detail)
			default:
				renewed, lookupErr := s.renewedByBillingEvent(ctx, grant.ID, req.BillingEventID)
				if lookupErr != nil {
					return lookupErr
				}
				if renewed {
					detail.Outcome = OutcomeSuccess
					detail.Error = billingRenewalSkipMessage
					summary.add(detail)
					continue
				}
				eligible = append(eligible, renewalTarget{grant: grant, scriptID: indicator.ExternalScriptID})
			}
		}
		if len(eligible) == 0 {
			return nil
		}

		now := s.clock()
		indexed, callErr := s.callRenewal(ctx, user.ExternalUsername, eligible, req.Duration, strategy, now)
		if callErr != nil {
			return callErr
		}
		for _, target := range eligible {
			write := renewTransition(target.grant, indexed[target.scriptID], req, strategy, now)
			stored, event, writeErr := s.ledgerStore.Write(ctx, write)
			if writeErr != nil {
				return writeErr
			}
			if event.Inconsistency != "" {
				s.logWarn(ctx, "renewal inconsistency", map[string]any{
					"user_id":       req.UserID,
					"grant_id":      target.grant.ID,
					"inconsistency": event.Inconsistency,
				})
			}
			summary.add(OperationDetail{
				IndicatorID:      target.grant.IndicatorID,
				ExternalScriptID: target.scriptID,
				GrantID:          stored.ID,
				Outcome:          event.Outcome,
				Status:           stored.Status,
				ExpiresAt:        cloneTime(stored.ExpiresAt),
				Error:            event.ErrorMessage,
				Inconsistency:    event.Inconsistency,
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

type renewalTarget struct {
	grant    AccessGrant
	scriptID string
}

func validateRenewRequest(req *RenewRequest) error {
	if req.UserID == "" {
		return NewValidationError("user_id", "user id is required")
	}
	if len(req.GrantIDs) == 0 {
		return NewValidationError("grant_ids", "at least one grant is required")
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

// renewedByBillingEvent reports whether the grant already has a successful
// renewal recorded for billingEventID, so a redelivered cycle never extends
// the same grant twice.
func (s *Service) renewedByBillingEvent(ctx context.Context, grantID string, billingEventID string) (bool, error) {
	billingEventID = strings.TrimSpace(billingEventID)
	if billingEventID == "" || s.eventLog == nil {
		return false, nil
	}
	page, err := s.eventLog.ListEvents(ctx, AuditFilter{
		GrantID:        grantID,
		Operation:      OperationRenew,
		BillingEventID: billingEventID,
		Page:           1,
		PerPage:        50,
	})
	if err != nil {
		return false, err
	}
	for _, event := range page.Items {
		if event.Outcome == OutcomeSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) resolveRenewalStrategy(ctx context.Context, req RenewRequest) string {
	if req.Duration.IsLifetime() {
		return RenewalStrategyAdditive
	}
	configured := s.config.renewalStrategy()
	if configured == RenewalStrategyAdditive {
		return RenewalStrategyAdditive
	}
	if s.gateway.SupportsReplace() {
		return RenewalStrategyReplace
	}
	s.logWarn(ctx, "replace expiration unavailable, renewing additively", map[string]any{
		"user_id":    req.UserID,
		"configured": configured,
	})
	return RenewalStrategyAdditive
}

// callRenewal issues the platform calls for one renewal. Replace groups grants
// by target expiration, so grants sharing an expiry share one call.
func (s *Service) callRenewal(
	ctx context.Context,
	username string,
	targets []renewalTarget,
	duration DurationType,
	strategy string,
	now time.Time,
) (map[string]AccessOutcome, error) {
	if strategy != RenewalStrategyReplace {
		scriptIDs := make([]string, 0, len(targets))
		for _, target := range targets {
			if !containsString(scriptIDs, target.scriptID) {
				scriptIDs = append(scriptIDs, target.scriptID)
			}
		}
		outcomes, err := s.gateway.Grant(ctx, username, scriptIDs, duration)
		if err != nil {
			return nil, err
		}
		return indexOutcomes(scriptIDs, outcomes), nil
	}

	groups := map[time.Time][]string{}
	for _, target := range targets {
		expiry := renewalTargetExpiry(target.grant.ExpiresAt, duration, now)
		if !containsString(groups[expiry], target.scriptID) {
			groups[expiry] = append(groups[expiry], target.scriptID)
		}
	}
	expiries := make([]time.Time, 0, len(groups))
	for expiry := range groups {
		expiries = append(expiries, expiry)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	indexed := map[string]AccessOutcome{}
	for _, expiry := range expiries {
		scriptIDs := groups[expiry]
		outcomes, err := s.gateway.ReplaceExpiration(ctx, username, scriptIDs, expiry)
		if err != nil {
			return nil, err
		}
		for key, outcome := range indexOutcomes(scriptIDs, outcomes) {
			indexed[key] = outcome
		}
	}
	return indexed, nil
}

// renewalTargetExpiry extends from the later of now and the current expiry so
// an early renewal never loses remaining time.
func renewalTargetExpiry(current *time.Time, duration DurationType, now time.Time) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	target := duration.ExpiryFrom(base)
	if target == nil {
		return base
	}
	return target.UTC()
}
