package tile

import "errors"

// Error taxonomy for the Tile cloud API.
//
// Callers distinguish three situations with errors.Is():
//
//   - ErrInvalidCredentials: the account rejected the login. Not retryable;
//     surfaced as a hard setup failure.
//   - ErrSessionExpired: the authenticated session lapsed. Recoverable by
//     calling Client.ReinitializeSession.
//   - ErrServiceUnavailable: any other transport or protocol failure.
//     Retryable; setup reports "not ready" and the host tries again later.
var (
	// ErrInvalidCredentials is returned when the service rejects the
	// username/password pair during login.
	ErrInvalidCredentials = errors.New("tile: invalid credentials")

	// ErrSessionExpired is returned when an authenticated request fails
	// because the session is no longer valid.
	ErrSessionExpired = errors.New("tile: session expired")

	// ErrServiceUnavailable is returned for transport failures and
	// unexpected responses from the Tile cloud.
	ErrServiceUnavailable = errors.New("tile: service unavailable")
)
