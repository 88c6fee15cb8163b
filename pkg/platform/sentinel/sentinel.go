package sentinel

import "errors"

// Infrastructure facts returned (optionally wrapped) by stores and clients.
// Services translate them into pkg/domain-errors codes; they never reach HTTP
// responses directly.
//
//   - ErrNotFound: the row does not exist
//   - ErrConflict: the row changed since it was read (version mismatch)
//   - ErrAlreadyUsed: an idempotency key was claimed by an earlier delivery
//   - ErrUnavailable: a dependency did not answer in time
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
)
