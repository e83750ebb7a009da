// Package tile implements the client for the Tile cloud location API.
//
// The client authenticates an account, discovers the tiles attached to it
// and refreshes individual tile state on demand. All failures map onto a
// small set of sentinel errors so callers can distinguish bad credentials,
// an expired session and a temporarily unavailable service without
// inspecting HTTP details:
//
//	client, err := tile.Login(ctx, email, password, session)
//	if errors.Is(err, tile.ErrInvalidCredentials) {
//	    // re-prompt for credentials, do not retry
//	}
//
// Tiles returned by GetTiles keep a reference to their client and mutate
// in place on Update, so a single Tile pointer can be shared between the
// refresh loop and readers.
package tile
