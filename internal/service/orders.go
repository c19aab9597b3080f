package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/validate"
	"go.uber.org/zap"
)

type OrderService struct {
	db       *sqlx.DB
	notifier Notifier
	logger   *zap.Logger
	opts     Options
}

func NewOrderService(db *sqlx.DB, notifier Notifier, logger *zap.Logger, opts Options) *OrderService {
	return &OrderService{db: db, notifier: notifier, logger: logger.Named("orders"), opts: opts}
}

type ItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CreateOrderInput struct {
	ShippingAddress string      `json:"shipping_address"`
	Notes           string      `json:"notes"`
	Items           []ItemInput `json:"items"`
}

// CreateOrder opens a pending order for actor and adds the initial items,
// all or nothing.
func (s *OrderService) CreateOrder(ctx context.Context, actor auth.Identity, in CreateOrderInput) (*models.Order, error) {
	if err := validate.OrderDetails(in.ShippingAddress, in.Notes); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(in.Items))
	for _, item := range in.Items {
		if err := validate.Quantity(item.Quantity); err != nil {
			return nil, err
		}
		if seen[item.ProductID] {
			return nil, fmt.Errorf("%w: product %d listed twice", database.ErrDuplicateOrderItem, item.ProductID)
		}
		seen[item.ProductID] = true
	}

	// Reserve in product id order so two orders over the same products
	// always lock them in the same sequence.
	items := append([]ItemInput(nil), in.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	var order *models.Order
	err := runTx(ctx, s.db, s.opts, s.notifier, func(tx *sqlx.Tx, box *outbox) error {
		created, err := store.CreateOrder(ctx, tx, actor.UserID, in.ShippingAddress, in.Notes)
		if err != nil {
			return err
		}

		for _, item := range items {
			if _, err := s.addItem(ctx, tx, box, actor, created, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if len(items) > 0 {
			if _, err := store.RecalculateOrderTotal(ctx, tx, created.ID); err != nil {
				return err
			}
		}

		order, err = store.GetOrder(ctx, tx, created.ID, store.AdminScope(actor.UserID))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.Int64("user_id", actor.UserID),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*models.Order, error) {
	return store.GetOrder(ctx, s.db, orderID, scopeFor(actor))
}

type UpdateOrderInput struct {
	ShippingAddress *string `json:"shipping_address"`
	Notes           *string `json:"notes"`
}

// UpdateOrder edits the delivery details of a pending order. Nil fields
// are left as they are.
func (s *OrderService) UpdateOrder(ctx context.Context, actor auth.Identity, orderID uuid.UUID, in UpdateOrderInput) (*models.Order, error) {
	var order *models.Order
	err := runTx(ctx, s.db, s.opts, s.notifier, func(tx *sqlx.Tx, box *outbox) error {
		locked, err := store.LockOrder(ctx, tx, orderID, scopeFor(actor))
		if err != nil {
			return err
		}
		if locked.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: order is %s", database.ErrOrderNotEditable, locked.Status)
		}

		if in.ShippingAddress != nil {
			locked.ShippingAddress = *in.ShippingAddress
		}
		if in.Notes != nil {
			locked.Notes = *in.Notes
		}
		if err := validate.OrderDetails(locked.ShippingAddress, locked.Notes); err != nil {
			return err
		}

		if err := store.UpdateOrderDetails(ctx, tx, locked); err != nil {
			return err
		}

		order, err = store.GetOrder(ctx, tx, orderID, scopeFor(actor))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order updated", zap.String("order_id", order.ID.String()), zap.Int64("user_id", actor.UserID))
	return order, nil
}

// ListOrders pages through the actor's own orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, actor auth.Identity, cursor string, limit int) (*store.CursorPage, error) {
	_, limit = store.NormalizePage(1, limit)
	return store.ListOrdersCursor(ctx, s.db, store.OwnerScope(actor.UserID), cursor, limit)
}

// CreateOrderItem adds productID to a pending order: stock is reserved, the
// current price is frozen into the item and the order total is recomputed,
// in one transaction.
func (s *OrderService) CreateOrderItem(ctx context.Context, actor auth.Identity, orderID uuid.UUID, productID int64, quantity int) (*models.OrderItem, error) {
	if err := validate.Quantity(quantity); err != nil {
		return nil, err
	}

	var item *models.OrderItem
	err := runTx(ctx, s.db, s.opts, s.notifier, func(tx *sqlx.Tx, box *outbox) error {
		order, err := store.LockOrder(ctx, tx, orderID, scopeFor(actor))
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: order is %s", database.ErrOrderNotEditable, order.Status)
		}

		item, err = s.addItem(ctx, tx, box, actor, order, productID, quantity)
		if err != nil {
			return err
		}

		_, err = store.RecalculateOrderTotal(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order item created",
		zap.String("order_id", orderID.String()),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.String("unit_price", item.UnitPrice.StringFixed(2)),
	)
	return item, nil
}

// addItem reserves stock and inserts the line. The order row must already be
// locked by tx.
func (s *OrderService) addItem(ctx context.Context, tx *sqlx.Tx, box *outbox, actor auth.Identity, order *models.Order, productID int64, quantity int) (*models.OrderItem, error) {
	exists, err := store.OrderItemExists(ctx, tx, order.ID, productID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, database.ErrDuplicateOrderItem
	}

	before, after, err := store.ReserveStock(ctx, tx, productID, quantity, s.opts.lockMode())
	if err != nil {
		return nil, err
	}

	item, err := store.InsertOrderItem(ctx, tx, order.ID, productID, quantity, before.Price)
	if err != nil {
		return nil, err
	}

	if err := auditStock(ctx, tx, actor, productID, before.StockQuantity, after.StockQuantity); err != nil {
		return nil, err
	}

	if after.IsLowStock() {
		box.add(notify.KindLowStock, lowStockNotice(after))
	}
	return item, nil
}

func (s *OrderService) GetOrderItem(ctx context.Context, actor auth.Identity, itemID int64) (*models.OrderItem, error) {
	return store.GetOrderItem(ctx, s.db, itemID, scopeFor(actor))
}

// DeleteOrderItem removes an item from a pending order and puts its
// quantity back in stock.
func (s *OrderService) DeleteOrderItem(ctx context.Context, actor auth.Identity, itemID int64) error {
	var item *models.OrderItem
	err := runTx(ctx, s.db, s.opts, s.notifier, func(tx *sqlx.Tx, box *outbox) error {
		var err error
		item, err = store.LockOrderItem(ctx, tx, itemID, scopeFor(actor))
		if err != nil {
			return err
		}

		order, err := store.LockOrder(ctx, tx, item.OrderID, scopeFor(actor))
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: order is %s", database.ErrOrderNotEditable, order.Status)
		}

		if err := store.DeleteOrderItem(ctx, tx, item.ID); err != nil {
			return err
		}

		if err := s.release(ctx, tx, actor, item); err != nil {
			return err
		}

		_, err = store.RecalculateOrderTotal(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("order item deleted",
		zap.String("order_id", item.OrderID.String()),
		zap.Int64("item_id", itemID),
		zap.Int("released", item.Quantity),
	)
	return nil
}

func (s *OrderService) release(ctx context.Context, tx *sqlx.Tx, actor auth.Identity, item *models.OrderItem) error {
	product, err := store.ReleaseStock(ctx, tx, item.ProductID, item.Quantity)
	if err != nil {
		return err
	}
	return auditStock(ctx, tx, actor, product.ID, product.StockQuantity-item.Quantity, product.StockQuantity)
}

// TransitionOrderStatus moves an order along the status machine and records
// the change. Customers may only cancel their own orders, and only while
// they are pending or confirmed; admins may apply any allowed transition.
// Cancelling returns the items' stock.
func (s *OrderService) TransitionOrderStatus(ctx context.Context, actor auth.Identity, orderID uuid.UUID, next models.OrderStatus, reason string) (*models.Order, error) {
	if !actor.IsAdmin && next != models.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: customers may only cancel", database.ErrInvalidStatusTransition)
	}

	var order *models.Order
	err := runTx(ctx, s.db, s.opts, s.notifier, func(tx *sqlx.Tx, box *outbox) error {
		var err error
		order, err = store.LockOrder(ctx, tx, orderID, scopeFor(actor))
		if err != nil {
			return err
		}

		previous := order.Status
		if previous.IsTerminal() {
			return fmt.Errorf("%w: order is already %s", database.ErrInvalidStatusTransition, previous)
		}
		if !previous.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidStatusTransition, previous, next)
		}
		if !actor.IsAdmin && !order.CanBeCancelled() {
			return fmt.Errorf("%w: order is %s and can no longer be cancelled", database.ErrInvalidStatusTransition, previous)
		}

		if next == models.OrderStatusCancelled {
			items, err := store.ListOrderItems(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			// Same product lock order as CreateOrder.
			sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
			for i := range items {
				if err := s.release(ctx, tx, actor, &items[i]); err != nil {
					return err
				}
			}
		}

		if err := store.UpdateOrderStatus(ctx, tx, order, next); err != nil {
			return err
		}

		_, err = store.AppendOrderHistory(ctx, tx, models.OrderHistory{
			OrderID:   order.ID,
			ChangedBy: actorRef(actor),
			OldStatus: string(previous),
			NewStatus: string(next),
			Reason:    reason,
		})
		if err != nil {
			return err
		}

		if next.NotifiesCustomer() {
			owner, err := store.GetUser(ctx, tx, order.UserID)
			if err != nil {
				return err
			}
			box.add(notify.KindOrderStatusChanged, notify.OrderStatusChanged{
				OrderID:   order.ID,
				Email:     owner.Email,
				OldStatus: previous,
				NewStatus: next,
			})
		}

		order.Items, err = store.ListOrderItems(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("status", string(order.Status)),
		zap.Int64("actor", actor.UserID),
	)
	return order, nil
}

// OrderHistory lists the order's status changes oldest first.
func (s *OrderService) OrderHistory(ctx context.Context, actor auth.Identity, orderID uuid.UUID) ([]models.OrderHistory, error) {
	if _, err := store.GetOrder(ctx, s.db, orderID, scopeFor(actor)); err != nil {
		return nil, err
	}
	return store.ListOrderHistory(ctx, s.db, orderID)
}
