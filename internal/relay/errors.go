package relay

import "errors"

// ErrNotConnected means no relay in the mesh is currently reachable.
// Reads degrade to empty results; writes surface this error instead.
var ErrNotConnected = errors.New("not connected to any relay")

// ErrPublishUnconfirmed means a fact was sent but could not be read back
// from any relay after the settle window and one retry. The fact may or
// may not have been stored.
var ErrPublishUnconfirmed = errors.New("publish unconfirmed")
