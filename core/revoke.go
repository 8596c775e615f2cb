package core

import (
	"context"
	"strings"
	"time"
)

// Revoke removes platform access for the given grants. A grant is only marked
// revoked once the platform confirms removal; any other answer marks it
// failed and leaves expires_at untouched.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) (summary OperationSummary, err error) {
	startedAt := time.Now()
	req.UserID = strings.TrimSpace(req.UserID)
	req.GrantIDs = normalizeIDs(req.GrantIDs)
	req.Actor = defaultActor(req.Actor)
	req.Reason = strings.TrimSpace(req.Reason)
	fields := map[string]any{
		"user_id": req.UserID,
		"grants":  len(req.GrantIDs),
		"actor":   req.Actor,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke", err, fields)
	}()

	if err = s.requireMutationDeps(); err != nil {
		return OperationSummary{}, s.mapError(err)
	}
	if req.UserID == "" {
		return OperationSummary{}, s.mapError(NewValidationError("user_id", "user id is required"))
	}
	if len(req.GrantIDs) == 0 {
		return OperationSummary{}, s.mapError(NewValidationError("grant_ids", "at least one grant is required"))
	}
	user, err := s.userDirectory.GetUser(ctx, req.UserID)
	if err != nil {
		return OperationSummary{}, s.mapError(err)
	}
	if strings.TrimSpace(user.ExternalUsername) == "" {
		return OperationSummary{}, s.mapError(NewValidationError("external_username", "user has no external username"))
	}

	summary = OperationSummary{Operation: OperationRevoke, UserID: req.UserID, Details: []OperationDetail{}}
	err = s.withUserLock(ctx, req.UserID, func() error {
		// Reload inside the lock so concurrent mutations are observed.
		grants, loadErr := s.userGrants(ctx, req.UserID, req.GrantIDs)
		if loadErr != nil {
			return loadErr
		}

		pending := make([]AccessGrant, 0, len(grants))
		scripts := make(map[string]string, len(grants))
		scriptIDs := make([]string, 0, len(grants))
		for _, grant := range grants {
			indicator, indicatorErr := s.indicatorCatalog.GetIndicator(ctx, grant.IndicatorID)
			if indicatorErr != nil {
				return indicatorErr
			}
			if grant.Status == GrantStatusRevoked {
				summary.add(OperationDetail{
					IndicatorID:      grant.IndicatorID,
					ExternalScriptID: indicator.ExternalScriptID,
					GrantID:          grant.ID,
					Outcome:          OutcomeSuccess,
					Status:           grant.Status,
					ExpiresAt:        cloneTime(grant.ExpiresAt),
					Skipped:          true,
				})
				continue
			}
			pending = append(pending, grant)
			scripts[grant.ID] = indicator.ExternalScriptID
			if !containsString(scriptIDs, indicator.ExternalScriptID) {
				scriptIDs = append(scriptIDs, indicator.ExternalScriptID)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		outcomes, callErr := s.gateway.Remove(ctx, user.ExternalUsername, scriptIDs)
		if callErr != nil {
			return callErr
		}
		indexed := indexOutcomes(scriptIDs, outcomes)
		now := s.clock()
		for _, grant := range pending {
			scriptID := scripts[grant.ID]
			next, event := revokeTransition(grant, indexed[scriptID], req, now)
			stored, _, writeErr := s.ledgerStore.Write(ctx, GrantWrite{Grant: next, Event: event})
			if writeErr != nil {
				return writeErr
			}
			summary.add(OperationDetail{
				IndicatorID:      grant.IndicatorID,
				ExternalScriptID: scriptID,
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
	s.observeSummary(ctx, summary, "")
	return summary, nil
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
