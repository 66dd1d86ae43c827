package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and remote clients return
// these (optionally wrapped) so the session layer can decide how to react
// without knowing which backend produced them.
//
//   - ErrNotFound: key or record does not exist
//   - ErrInvalidState: operation not allowed in the current state
//   - ErrUnavailable: backend or remote service could not be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
