package session

import (
	"context"

	"pos-terminal/internal/models"
)

// API is the order-server contract the controller drives. The production
// implementation is internal/client; tests substitute func-field mocks.
type API interface {
	OrderByTable(ctx context.Context, tableID int) (*models.Order, error)
	OrderByID(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, id string, req models.UpdateOrderRequest) (*models.Order, error)
	SendToKitchen(ctx context.Context, id string, itemIDs []string) (*models.Order, error)
	MarkServed(ctx context.Context, id string) (*models.Order, error)
	Finalize(ctx context.Context, id, paymentMethod, receiptURL string) error
	CancelUnsentOrder(ctx context.Context, id string) error
	UploadReceipt(ctx context.Context, filename string, data []byte, mime string) (string, error)
}

// Receipt is an optional payment receipt image attached during finalize.
// Upload failure is non-fatal: the order finalizes without a receipt URL.
type Receipt struct {
	Filename string
	Data     []byte
	MIME     string
}
