// Package engine runs multi-tenant campaign workflows.
//
// A Processor accepts a campaign template and a tenant list, then advances
// the resulting batches on every ProcessPendingBatches pass: each pending
// tenant gets its own campaign, campaign batch and recipient journeys, and
// each ready journey moves through its stages, rendering content and
// handing it to the channel transport.
//
// Persistence is the only source of truth. Every pass re-reads state, and
// every unit of work (tenant result, stage execution, delivery) is written
// back before the next one starts, so an interrupted pass loses at most the
// unit in flight. Ids are derived from their parents, which makes re-running
// an interrupted tenant safe.
//
// The processor depends only on the interfaces in repository.go; concrete
// adapters live in the repository, crm, render, transport, tenant and
// archive packages.
package engine
