package board

import "errors"

var (
	// ErrDealNotFound indicates the referenced deal is not in any bucket.
	ErrDealNotFound = errors.New("deal not found on board")
	// ErrStageNotFound indicates the referenced stage is not registered.
	ErrStageNotFound = errors.New("stage not found")
	// ErrNoActiveDrag indicates a gesture event arrived outside a session.
	ErrNoActiveDrag = errors.New("no active drag session")
)
