// Package httputil holds the JSON response and request helpers shared by the
// HTTP handlers, so every endpoint answers with the same error envelope.
package httputil
