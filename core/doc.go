// Package core contains the access domain model, storage and gateway
// contracts, and the orchestrator that grants, renews, and revokes indicator
// access. Store and gateway implementations depend on this package; core does
// not depend on them.
package core
