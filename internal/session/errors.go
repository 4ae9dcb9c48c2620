package session

import "errors"

var (
	ErrClosed            = errors.New("order session closed")
	ErrNotStarted        = errors.New("order session not started")
	ErrItemNotFound      = errors.New("order item not found")
	ErrItemNotEditable   = errors.New("order item is not pending")
	ErrNoPendingItems    = errors.New("no pending items to send")
	ErrTempIDsUnresolved = errors.New("temporary item ids still unresolved")
	ErrNotServed         = errors.New("order not served yet")
	ErrAlreadyPaid       = errors.New("order already paid")
)
