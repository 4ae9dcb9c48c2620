// Package session owns the editing session of one table's order. It keeps an
// optimistically mutated working copy, persists it to the server behind a
// debounce, and reconciles incoming server refreshes without ever letting a
// refresh clobber unsynced local edits.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-terminal/internal/merge"
	"pos-terminal/internal/models"
	"pos-terminal/internal/snapshot"
)

const (
	defaultDebounce   = 300 * time.Millisecond
	defaultPruneDelay = 300 * time.Millisecond
	maxResyncPushes   = 3
)

// Controller coordinates three copies of the order:
//
//   - working: what the UI renders and edits, mutated optimistically;
//   - baseline: the last state acknowledged by the server, the reference for
//     dirty detection;
//   - serverSeen: the most recent state fetched from the server, possibly
//     ahead of baseline while local edits are dirty.
//
// Every assignment between roles is a deep copy; the three must never alias
// the same item slice.
type Controller struct {
	api     API
	tableID int
	log     *zap.Logger

	debounce   time.Duration
	pruneDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  *taskQueue

	mu           sync.Mutex
	closed       bool
	working      *models.Order
	baseline     *models.Order
	serverSeen   *models.Order
	buffered     *models.Order // server order received while dirty, not yet applied
	workingSnap  snapshot.Snapshot
	baselineSnap snapshot.Snapshot
	snapCache    snapshot.Cache

	debounceTimer *time.Timer
	pruneTimers   map[string]*time.Timer

	onPushErr func(error)
}

type Option func(*Controller)

// WithDebounce overrides the quiescence delay before an edit is pushed.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

// WithPruneDelay overrides the undo window before a zero-quantity row is
// removed.
func WithPruneDelay(d time.Duration) Option {
	return func(c *Controller) { c.pruneDelay = d }
}

// WithPushErrorHandler installs a hook invoked when a push or send fails,
// typically to alert the user.
func WithPushErrorHandler(f func(error)) Option {
	return func(c *Controller) { c.onPushErr = f }
}

func New(api API, tableID int, log *zap.Logger, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		api:         api,
		tableID:     tableID,
		log:         log,
		debounce:    defaultDebounce,
		pruneDelay:  defaultPruneDelay,
		ctx:         ctx,
		cancel:      cancel,
		queue:       newTaskQueue(),
		pruneTimers: make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start performs the initial fetch-or-create for the table and seeds all
// three order copies from it.
func (c *Controller) Start(ctx context.Context) error {
	ord, err := c.api.OrderByTable(ctx, c.tableID)
	if err != nil {
		return fmt.Errorf("load order for table %d: %w", c.tableID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.adoptLocked(ord)
	return nil
}

// Close tears the session down: pending debounce and prune timers are
// cleared so no push fires after the editing context is gone, and the push
// queue is drained.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	for id, t := range c.pruneTimers {
		t.Stop()
		delete(c.pruneTimers, id)
	}
	c.mu.Unlock()
	c.cancel()
	c.queue.close()
}

// --- local mutation entry points ---

// AddProduct applies the customization dialog result to the working order:
// merge into a matching pending line or append a new one with a temporary id.
func (c *Controller) AddProduct(product models.Product, choice merge.Customization) error {
	return c.applyLocalEdit(func(items []models.OrderItem) []models.OrderItem {
		return merge.AddProduct(items, product, choice, models.NewTempID, product.DefaultExcluded)
	}, false)
}

// ChangeQuantity adjusts a pending line by delta, clamping at zero. A line
// that hits zero is kept for the prune delay so the user can undo the
// decrement before the row disappears.
func (c *Controller) ChangeQuantity(itemID string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	it := c.findItemLocked(itemID)
	if it == nil {
		return ErrItemNotFound
	}
	if it.Status != models.ItemStatusPending {
		return ErrItemNotEditable
	}
	qty := it.Quantity + delta
	if qty < 0 {
		qty = 0
	}
	it.Quantity = qty
	c.localChangedLocked(false)

	if t, ok := c.pruneTimers[itemID]; ok {
		t.Stop()
		delete(c.pruneTimers, itemID)
	}
	if qty == 0 {
		c.pruneTimers[itemID] = time.AfterFunc(c.pruneDelay, func() {
			c.pruneZeroQuantity(itemID)
		})
	}
	return nil
}

// ChangeComment applies a keystroke-level comment edit locally without
// scheduling a push; PersistComment commits it on blur.
func (c *Controller) ChangeComment(itemID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	it := c.findItemLocked(itemID)
	if it == nil {
		return ErrItemNotFound
	}
	if it.Status != models.ItemStatusPending {
		return ErrItemNotEditable
	}
	it.Comment = text
	c.localChangedLocked(true)
	return nil
}

// PersistComment schedules the debounced push for a comment draft.
func (c *Controller) PersistComment(itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	if c.findItemLocked(itemID) == nil {
		return ErrItemNotFound
	}
	c.schedulePushLocked()
	return nil
}

func (c *Controller) pruneZeroQuantity(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pruneTimers, itemID)
	if c.closed || c.working == nil {
		return
	}
	for i, it := range c.working.Items {
		if it.ID == itemID && it.Quantity == 0 {
			c.working.Items = append(c.working.Items[:i], c.working.Items[i+1:]...)
			c.localChangedLocked(false)
			return
		}
	}
}

// applyLocalEdit runs a pure transformation on the working item list,
// recomputes totals and the working snapshot synchronously, and schedules the
// debounced push unless the edit is a comment draft.
func (c *Controller) applyLocalEdit(mutate func([]models.OrderItem) []models.OrderItem, draft bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	c.working.Items = mutate(c.working.Items)
	c.localChangedLocked(draft)
	return nil
}

// localChangedLocked refreshes totals and the snapshot cache after an
// in-place mutation of the working items.
func (c *Controller) localChangedLocked(draft bool) {
	c.working.RecomputeTotals()
	c.snapCache.Invalidate()
	c.workingSnap = c.snapCache.Take(c.working.Items)
	if !draft {
		c.schedulePushLocked()
	}
}

// schedulePushLocked resets the single debounce timer; rapid edits collapse
// into one push.
func (c *Controller) schedulePushLocked() {
	if c.closed {
		return
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.debounce, func() {
		c.queue.enqueue(c.pushTask)
	})
}

// --- push / pull reconciliation ---

// pushTask persists the live working state. It always runs on the serialized
// queue, so at most one push is in flight and pushes execute in enqueue
// order. Errors are handled here, never propagated to the queue.
func (c *Controller) pushTask() {
	ctx := c.ctx

	c.mu.Lock()
	if c.closed || c.working == nil {
		c.mu.Unlock()
		return
	}
	if c.isCleanLocked() {
		// Nothing unsynced; this is also a natural point to apply a
		// refresh buffered while we were dirty.
		c.maybeApplyBufferedLocked()
		c.mu.Unlock()
		return
	}
	orderID := c.working.ID
	base := c.buffered
	if base == nil {
		base = c.serverSeen
	}
	var baseItems []models.OrderItem
	haveBase := base != nil
	if haveBase {
		baseItems = models.CloneItems(base.Items)
	}
	c.mu.Unlock()

	if !haveBase {
		fetched, err := c.api.OrderByID(ctx, orderID)
		if err != nil {
			c.pushFailed(ctx, err)
			return
		}
		if fetched != nil {
			baseItems = fetched.Items
		}
	}

	// The payload is the working state at execution time, not a stale
	// closure: edits made between enqueue and execution must not be lost.
	c.mu.Lock()
	items := models.CloneItems(c.working.Items)
	c.mu.Unlock()
	sentSnap := snapshot.Take(items)

	resp, err := c.api.UpdateOrder(ctx, orderID, models.UpdateOrderRequest{
		Items:          items,
		RemovedItemIDs: removedDurableIDs(baseItems, items),
	})
	if err != nil {
		c.pushFailed(ctx, err)
		return
	}
	if resp == nil {
		c.log.Warn("update order returned no body", zap.String("order_id", orderID))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.serverSeen = resp.Clone()
	c.baseline = resp.Clone()
	c.baselineSnap = snapshot.Take(c.baseline.Items)
	// Adopt the server's recomputed order as the working state only if no
	// edit landed while the push was in flight; otherwise the working copy
	// stays ahead and the next debounce cycle sends it.
	if c.workingSnap.Equal(sentSnap) {
		c.working = resp.Clone()
		c.snapCache.Invalidate()
		c.workingSnap = c.snapCache.Take(c.working.Items)
	}
	c.maybeApplyBufferedLocked()
}

// pushFailed alerts, logs and re-anchors all local state from the server.
// Optimistic edits made since the last successful sync are abandoned; that is
// the accepted trade-off over diverging silently.
func (c *Controller) pushFailed(ctx context.Context, err error) {
	c.log.Error("order push failed", zap.Error(err))
	c.alert(err)
	c.refetch(ctx)
}

// refetch re-anchors all local state from the server after a failure.
func (c *Controller) refetch(ctx context.Context) {
	fetched, err := c.api.OrderByTable(ctx, c.tableID)
	if err != nil {
		c.log.Error("refetch after failure", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.adoptLocked(fetched)
}

// Refresh pulls the current server order, typically in response to an
// orders_updated notification. A clean session applies it directly; a dirty
// one buffers it until local state is clean again.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.working == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	orderID := c.working.ID
	c.mu.Unlock()

	ord, err := c.api.OrderByID(ctx, orderID)
	if err != nil {
		c.log.Warn("refresh failed", zap.Error(err))
		return err
	}
	if ord == nil {
		c.log.Warn("order missing on refresh", zap.String("order_id", orderID))
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.isCleanLocked() {
		c.adoptLocked(ord)
		return nil
	}
	// Dirty: never apply over unsynced edits. A server state that matches
	// the confirmed baseline carries nothing new, so drop any buffer.
	if snapshot.Take(ord.Items).Equal(c.baselineSnap) {
		c.buffered = nil
		return nil
	}
	c.buffered = ord.Clone()
	c.log.Debug("server order buffered while dirty", zap.String("order_id", orderID))
	return nil
}

// maybeApplyBufferedLocked applies a buffered server order once local state
// is clean, unless it already matches what is visible locally.
func (c *Controller) maybeApplyBufferedLocked() {
	if c.buffered == nil || !c.isCleanLocked() {
		return
	}
	if snapshot.Take(c.buffered.Items).Equal(c.workingSnap) {
		c.buffered = nil
		return
	}
	ord := c.buffered
	c.buffered = nil
	c.adoptLocked(ord)
}

// adoptLocked replaces all three order copies with deep copies of the
// server's authoritative state.
func (c *Controller) adoptLocked(ord *models.Order) {
	c.working = ord.Clone()
	c.baseline = ord.Clone()
	c.serverSeen = ord.Clone()
	c.buffered = nil
	c.snapCache.Invalidate()
	c.workingSnap = c.snapCache.Take(c.working.Items)
	c.baselineSnap = snapshot.Take(c.baseline.Items)
}

// --- kitchen / payment / exit ---

// SendToKitchen confirms all pending items at the kitchen. Items still
// carrying temporary ids are resolved first by awaiting pushes; if ids remain
// unresolved after that, the send is aborted with ErrTempIDsUnresolved.
func (c *Controller) SendToKitchen(ctx context.Context) error {
	for attempt := 0; attempt < maxResyncPushes && c.hasTempPending(); attempt++ {
		if !c.queue.do(c.pushTask) {
			return ErrClosed
		}
	}
	if c.hasTempPending() {
		c.log.Warn("temporary item ids unresolved, aborting send to kitchen")
		return ErrTempIDsUnresolved
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.working == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	orderID := c.working.ID
	var itemIDs []string
	for _, it := range c.working.Items {
		if it.Status == models.ItemStatusPending {
			itemIDs = append(itemIDs, it.ID)
		}
	}
	c.mu.Unlock()

	if len(itemIDs) == 0 {
		return ErrNoPendingItems
	}

	resp, err := c.api.SendToKitchen(ctx, orderID, itemIDs)
	if err != nil {
		c.log.Error("send to kitchen failed", zap.Error(err))
		c.alert(err)
		c.refetch(ctx)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.adoptLocked(resp)
	}
	return nil
}

// Serve marks the order served and adopts the server's response.
func (c *Controller) Serve(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.working == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	orderID := c.working.ID
	c.mu.Unlock()

	resp, err := c.api.MarkServed(ctx, orderID)
	if err != nil {
		c.log.Error("mark served failed", zap.Error(err))
		c.alert(err)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.adoptLocked(resp)
	}
	return nil
}

// OpenPayment validates that the order can take a payment and returns the
// amount due. Payment is only open once the kitchen flow reached served.
func (c *Controller) OpenPayment() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if c.working == nil {
		return 0, ErrNotStarted
	}
	if c.working.Payment == models.PaymentStatusPaid {
		return 0, ErrAlreadyPaid
	}
	if c.working.Status != models.OrderStatusServed {
		return 0, ErrNotServed
	}
	return c.working.TotalCents, nil
}

// Finalize settles the order. A receipt, if given, is uploaded first; upload
// failure is non-fatal and the order finalizes without a receipt URL.
func (c *Controller) Finalize(ctx context.Context, paymentMethod string, receipt *Receipt) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.working == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.working.Payment == models.PaymentStatusPaid {
		c.mu.Unlock()
		return ErrAlreadyPaid
	}
	if c.working.Status != models.OrderStatusServed {
		c.mu.Unlock()
		return ErrNotServed
	}
	orderID := c.working.ID
	c.mu.Unlock()

	receiptURL := ""
	if receipt != nil {
		url, err := c.api.UploadReceipt(ctx, receipt.Filename, receipt.Data, receipt.MIME)
		if err != nil {
			c.log.Warn("receipt upload failed, finalizing without receipt", zap.Error(err))
		} else {
			receiptURL = url
		}
	}

	if err := c.api.Finalize(ctx, orderID, paymentMethod, receiptURL); err != nil {
		c.log.Error("finalize failed", zap.Error(err))
		c.alert(err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	for _, o := range []*models.Order{c.working, c.baseline, c.serverSeen} {
		if o != nil {
			o.Payment = models.PaymentStatusPaid
			o.ReceiptURL = receiptURL
		}
	}
	return nil
}

// NeedsExitConfirmation reports whether leaving the screen would lose work:
// an order that was never sent but has items, or unsynced local edits.
func (c *Controller) NeedsExitConfirmation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil {
		return false
	}
	if c.working.Status == models.OrderStatusNotSent && len(c.working.Items) > 0 {
		return true
	}
	return !c.isCleanLocked()
}

// ConfirmExit resolves a confirmed exit: discard cancels a never-sent order
// server-side, otherwise pending edits are pushed. Edits are never dropped
// without one of the two.
func (c *Controller) ConfirmExit(ctx context.Context, discard bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.working == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	orderID := c.working.ID
	unsent := c.working.Status == models.OrderStatusNotSent && len(c.working.Items) > 0
	dirty := !c.isCleanLocked()
	c.mu.Unlock()

	if discard {
		if !unsent {
			return nil
		}
		if err := c.api.CancelUnsentOrder(ctx, orderID); err != nil {
			c.log.Error("cancel unsent order failed", zap.Error(err))
			return err
		}
		return nil
	}
	if dirty {
		if !c.queue.do(c.pushTask) {
			return ErrClosed
		}
	}
	return nil
}

// --- derived read state ---

// Order returns a deep copy of the working order. The read path is also
// where a buffered server order is applied once the session turns clean.
func (c *Controller) Order() *models.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeApplyBufferedLocked()
	return c.working.Clone()
}

func (c *Controller) PendingItems() []models.OrderItem {
	return c.itemsByStatus(models.ItemStatusPending)
}

func (c *Controller) SentItems() []models.OrderItem {
	return c.itemsByStatus(models.ItemStatusSent)
}

func (c *Controller) itemsByStatus(status models.ItemStatus) []models.OrderItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil {
		return nil
	}
	var out []models.OrderItem
	for _, it := range c.working.Items {
		if it.Status == status {
			out = append(out, it.Clone())
		}
	}
	return out
}

// IsSynced reports whether the working order matches the confirmed baseline.
func (c *Controller) IsSynced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil {
		return true
	}
	c.maybeApplyBufferedLocked()
	return c.isCleanLocked()
}

func (c *Controller) Status() models.OrderStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil {
		return ""
	}
	return c.working.Status
}

func (c *Controller) TotalCents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil {
		return 0
	}
	return c.working.TotalCents
}

// --- helpers ---

func (c *Controller) editableLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.working == nil {
		return ErrNotStarted
	}
	return nil
}

func (c *Controller) findItemLocked(itemID string) *models.OrderItem {
	for i := range c.working.Items {
		if c.working.Items[i].ID == itemID {
			return &c.working.Items[i]
		}
	}
	return nil
}

func (c *Controller) isCleanLocked() bool {
	return c.workingSnap.Equal(c.baselineSnap)
}

func (c *Controller) hasTempPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil {
		return false
	}
	for _, it := range c.working.Items {
		if it.Status == models.ItemStatusPending && models.IsTempID(it.ID) {
			return true
		}
	}
	return false
}

func (c *Controller) alert(err error) {
	c.mu.Lock()
	hook := c.onPushErr
	c.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

// removedDurableIDs derives the removal list for a push: ids that exist in
// the base server state, have the durable shape, and are gone from the
// working list.
func removedDurableIDs(base, working []models.OrderItem) []string {
	present := make(map[string]struct{}, len(working))
	for _, it := range working {
		present[it.ID] = struct{}{}
	}
	var removed []string
	for _, it := range base {
		if !models.IsDurableID(it.ID) {
			continue
		}
		if _, ok := present[it.ID]; !ok {
			removed = append(removed, it.ID)
		}
	}
	return removed
}
