// Package suppression keeps the per-tenant list of recipients that must not
// be contacted again.
//
// Entries arrive from delivery callbacks (unsubscribes, spam complaints and
// bounces) and from operators. The engine checks the list before every
// stage send, so a recipient who opts out of one campaign is skipped by
// every other campaign of the same tenant.
//
// The service layer depends only on the Repository interface defined in
// repository.go. Postgres, Redis and in-memory implementations exist.
package suppression
