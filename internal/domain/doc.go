// Package domain defines the core types of the campaign workflow engine:
// stage definitions, workflow campaigns, recipient journeys, stage
// executions, message deliveries and the two batch aggregates.
//
// Rules for this package:
//   - The only internal import allowed is the leaf schedule package
//   - No storage handles, no http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they double as the storage form)
//   - State transitions live here as methods; they never perform I/O
//   - Constants and enums belong here
package domain
