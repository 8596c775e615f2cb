package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ReconciliationChecker compares the ledger's effective grants with the
// platform's reported access. It never writes the ledger.
type ReconciliationChecker struct {
	ledger  LedgerStore
	gateway AccessGateway
	users   UserDirectory
	catalog IndicatorCatalog
	now     func() time.Time
	logger  Logger
}

type ReconciliationOption func(*ReconciliationChecker)

func WithReconciliationClock(now func() time.Time) ReconciliationOption {
	return func(c *ReconciliationChecker) {
		if now != nil {
			c.now = now
		}
	}
}

func WithReconciliationLogger(logger Logger) ReconciliationOption {
	return func(c *ReconciliationChecker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewReconciliationChecker(
	ledger LedgerStore,
	gateway AccessGateway,
	users UserDirectory,
	catalog IndicatorCatalog,
	opts ...ReconciliationOption,
) (*ReconciliationChecker, error) {
	if ledger == nil {
		return nil, fmt.Errorf("core: reconciliation requires a ledger store")
	}
	if gateway == nil {
		return nil, fmt.Errorf("core: reconciliation requires an access gateway")
	}
	if users == nil {
		return nil, fmt.Errorf("core: reconciliation requires a user directory")
	}
	if catalog == nil {
		return nil, fmt.Errorf("core: reconciliation requires an indicator catalog")
	}
	checker := &ReconciliationChecker{
		ledger:  ledger,
		gateway: gateway,
		users:   users,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(checker)
		}
	}
	return checker, nil
}

// Check builds a drift report for one user. The platform is queried for every
// indicator the ledger knows for the user plus every active catalog entry so
// grants that exist only on the platform are found too.
func (c *ReconciliationChecker) Check(ctx context.Context, userID string) (DriftReport, error) {
	if c == nil {
		return DriftReport{}, fmt.Errorf("core: reconciliation checker is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DriftReport{}, NewValidationError("user_id", "user id is required")
	}
	user, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return DriftReport{}, err
	}
	username := strings.TrimSpace(user.ExternalUsername)
	if username == "" {
		return DriftReport{}, NewValidationError("external_username", "user has no external username")
	}

	grants, err := c.ledger.ListByUser(ctx, userID)
	if err != nil {
		return DriftReport{}, err
	}
	active, err := c.catalog.ListActiveIndicators(ctx)
	if err != nil {
		return DriftReport{}, err
	}

	now := c.now().UTC()
	indicatorByScript := map[string]string{}
	scriptIDs := []string{}
	track := func(indicator Indicator) {
		scriptID := strings.TrimSpace(indicator.ExternalScriptID)
		if scriptID == "" {
			return
		}
		if _, ok := indicatorByScript[scriptID]; ok {
			return
		}
		indicatorByScript[scriptID] = indicator.ID
		scriptIDs = append(scriptIDs, scriptID)
	}

	localActive := []string{}
	for _, grant := range grants {
		indicator, lookupErr := c.catalog.GetIndicator(ctx, grant.IndicatorID)
		if lookupErr != nil {
			return DriftReport{}, lookupErr
		}
		track(indicator)
		if grant.EffectiveAt(now) {
			localActive = append(localActive, grant.IndicatorID)
		}
	}
	for _, indicator := range active {
		track(indicator)
	}

	report := DriftReport{
		UserID:            userID,
		Username:          username,
		CheckedAt:         now,
		LocalActive:       sortedUnique(localActive),
		ExternalGranted:   []string{},
		MissingInExternal: []string{},
		ExtraInExternal:   []string{},
		Unknown:           []string{},
	}
	if len(scriptIDs) == 0 {
		return report, nil
	}

	outcomes, err := c.gateway.Status(ctx, username, scriptIDs)
	if err != nil {
		return DriftReport{}, err
	}
	indexed := indexOutcomes(scriptIDs, outcomes)
	externalGranted := []string{}
	for _, scriptID := range scriptIDs {
		indicatorID := indicatorByScript[scriptID]
		outcome := indexed[scriptID]
		if !outcome.Succeeded() || outcome.HasAccess == nil {
			report.Unknown = append(report.Unknown, indicatorID)
			continue
		}
		if *outcome.HasAccess && (outcome.EffectiveExpiry == nil || outcome.EffectiveExpiry.After(now)) {
			externalGranted = append(externalGranted, indicatorID)
		}
	}
	report.ExternalGranted = sortedUnique(externalGranted)
	report.Unknown = sortedUnique(report.Unknown)

	// Items the platform did not confirm count as not granted, so a locally
	// active indicator with no answer surfaces as missing.
	report.MissingInExternal, report.ExtraInExternal = ComputeDrift(report.LocalActive, report.ExternalGranted)

	if report.HasDrift() {
		c.logger.Warn("access drift detected",
			"user_id", userID,
			"missing_in_external", len(report.MissingInExternal),
			"extra_in_external", len(report.ExtraInExternal),
		)
	}
	return report, nil
}

// CheckAll checks each user in order. Per-user failures are joined into the
// returned error; reports for the users that succeeded are still returned.
func (c *ReconciliationChecker) CheckAll(ctx context.Context, userIDs []string) ([]DriftReport, error) {
	if c == nil {
		return nil, fmt.Errorf("core: reconciliation checker is nil")
	}
	reports := make([]DriftReport, 0, len(userIDs))
	var errs []error
	for _, userID := range normalizeIDs(userIDs) {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
		}
		report, err := c.Check(ctx, userID)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// ComputeDrift returns local-minus-external and external-minus-local, sorted.
func ComputeDrift(local []string, external []string) (missingInExternal []string, extraInExternal []string) {
	localSet := toSet(local)
	externalSet := toSet(external)
	missingInExternal = []string{}
	extraInExternal = []string{}
	for id := range localSet {
		if _, ok := externalSet[id]; !ok {
			missingInExternal = append(missingInExternal, id)
		}
	}
	for id := range externalSet {
		if _, ok := localSet[id]; !ok {
			extraInExternal = append(extraInExternal, id)
		}
	}
	sort.Strings(missingInExternal)
	sort.Strings(extraInExternal)
	return missingInExternal, extraInExternal
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}

func sortedUnique(values []string) []string {
	set := toSet(values)
	out := make([]string, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
