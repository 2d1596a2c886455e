package signaling

import "errors"

var (
	// ErrInvalidRequest marks client mistakes: missing fields, a bad SDP or
	// a candidate the engine refuses.
	ErrInvalidRequest = errors.New("invalid signaling request")
	// ErrNotFound means the pc_id does not name a live connection.
	ErrNotFound = errors.New("peer connection not found")
	// ErrClosed is returned once the handler has been closed.
	ErrClosed = errors.New("signaling handler closed")
	// ErrConnectionClosed means the connection was torn down while its
	// offer was being answered: the engine reported failure or the client
	// closed it.
	ErrConnectionClosed = errors.New("peer connection closed during negotiation")
	// ErrCanceled means the caller went away before the answer was ready.
	ErrCanceled = errors.New("negotiation canceled by caller")
	// ErrNegotiationTimeout means the offer/answer exchange did not finish
	// within the negotiation timeout.
	ErrNegotiationTimeout = errors.New("negotiation timed out")
)
