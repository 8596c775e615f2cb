package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-entitlements/core"
)

var (
	_ gocmd.Querier[AccessSummaryMessage, core.AccessSummaryCounts] = (*AccessSummaryQuery)(nil)
	_ gocmd.Querier[AuditTrailMessage, core.AuditPage]              = (*AuditTrailQuery)(nil)
	_ gocmd.Querier[ListFailedGrantsMessage, []core.AccessGrant]    = (*ListFailedGrantsQuery)(nil)
	_ gocmd.Querier[DriftReportMessage, []core.DriftReport]         = (*DriftReportQuery)(nil)

	_ DriftChecker    = (*core.ReconciliationChecker)(nil)
	_ ReportingReader = (*core.Service)(nil)
)
