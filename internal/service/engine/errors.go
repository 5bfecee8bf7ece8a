package engine

import "errors"

// Sentinel errors for the engine service layer.
var (
	ErrNoTenants     = errors.New("batch has no tenants")
	ErrBusy          = errors.New("resource is being processed, retry later")
	ErrMissingDep    = errors.New("processor dependency missing")
	ErrInvalidStatus = errors.New("unknown status")
	// ErrLockLost aborts work whose claim could not be renewed.
	ErrLockLost = errors.New("claim lost before work finished")

	// errHalted stops tenant work once an operator paused or cancelled the batch.
	errHalted = errors.New("batch is no longer processing")
)
