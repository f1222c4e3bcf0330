package worker

import (
	"context"
	"log"
	"time"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SweeperWorker periodically expires stock holds past their TTL. The
// sweep is a convergence pass: availability reads already ignore expired
// holds, this makes the state visible and frees the redis mirror.
type SweeperWorker struct {
	reservations   *service.ReservationManager
	eventPublisher *broker.EventPublisher
	interval       time.Duration
	logger         *zap.Logger
	stop           chan struct{}
}

// NewSweeperWorker creates a new reservation sweeper
func NewSweeperWorker(reservations *service.ReservationManager, eventPublisher *broker.EventPublisher, interval time.Duration) *SweeperWorker {
	return &SweeperWorker{
		reservations:   reservations,
		eventPublisher: eventPublisher,
		interval:       interval,
		logger:         util.GetLogger(),
		stop:           make(chan struct{}),
	}
}

// mirrorSyncTicks is how many sweep ticks pass between full reseeds of
// the redis availability mirror from the database.
const mirrorSyncTicks = 10

// Start runs the sweeper until the context is cancelled or Stop is
// called. Besides expiring holds, every mirrorSyncTicks passes the
// sweeper reseeds the redis mirror so unmirrored or drifted stock
// lines converge back to the database counters.
func (w *SweeperWorker) Start(ctx context.Context) error {
	log.Println("Starting reservation sweeper...")

	if err := w.reservations.SyncMirror(ctx); err != nil {
		w.logger.Error("Initial mirror sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			tick++
			if tick%mirrorSyncTicks == 0 {
				if err := w.reservations.SyncMirror(ctx); err != nil {
					w.logger.Error("Mirror sync failed", zap.Error(err))
				}
			}
			count, err := w.reservations.Sweep(ctx, time.Now())
			if err != nil {
				w.logger.Error("Reservation sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				w.logger.Info("Reservation sweep pass", zap.Int("expired", count))
				event := &models.ReservationSweptEvent{
					BaseEvent: models.BaseEvent{
						EventID:   uuid.New().String(),
						EventType: models.EventTypeReservationSwept,
						Timestamp: time.Now(),
					},
					ExpiredCount: count,
				}
				if err := w.eventPublisher.PublishReservationSwept(ctx, event); err != nil {
					w.logger.Error("Failed to publish sweep event", zap.Error(err))
				}
			}
		}
	}
}

// Stop stops the sweeper
func (w *SweeperWorker) Stop() error {
	log.Println("Stopping reservation sweeper...")
	close(w.stop)
	return nil
}

// NotificationWorker consumes the notification topic and hands events to
// the delivery channel. Actual email/SMS delivery lives outside the
// core; this worker just keeps the contract exercised and observable.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer) *NotificationWorker {
	eventHandler := broker.NewEventHandler()
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}

	eventHandler.OnLowStock(w.handleLowStock)
	eventHandler.OnCreditOverdue(w.handleCreditOverdue)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleLowStock(ctx context.Context, event *models.LowStockEvent) error {
	w.logger.Warn("Low stock",
		zap.Int64("storefront_id", event.StorefrontID),
		zap.Int64("stock_line_id", event.StockLineID),
		zap.Int64("product_id", event.ProductID),
		zap.Int("remaining", event.Remaining),
		zap.Int("threshold", event.Threshold))
	return nil
}

func (w *NotificationWorker) handleCreditOverdue(ctx context.Context, event *models.CreditOverdueEvent) error {
	w.logger.Warn("Credit overdue",
		zap.Int64("business_id", event.BusinessID),
		zap.Int64("customer_id", event.CustomerID),
		zap.Int64("outstanding_balance", event.Outstanding),
		zap.Int("credit_terms_days", event.TermsDays))
	return nil
}

// CreditWatchWorker periodically scans for customers whose outstanding
// balance has aged past their credit terms and publishes an overdue
// notification per customer.
type CreditWatchWorker struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	interval       time.Duration
	logger         *zap.Logger
	stop           chan struct{}
}

// NewCreditWatchWorker creates a new overdue-credit scanner
func NewCreditWatchWorker(store *store.Store, eventPublisher *broker.EventPublisher, interval time.Duration) *CreditWatchWorker {
	return &CreditWatchWorker{
		store:          store,
		eventPublisher: eventPublisher,
		interval:       interval,
		logger:         util.GetLogger(),
		stop:           make(chan struct{}),
	}
}

// Start runs the scanner until the context is cancelled or Stop is called
func (w *CreditWatchWorker) Start(ctx context.Context) error {
	log.Println("Starting credit watch worker...")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// Stop stops the scanner
func (w *CreditWatchWorker) Stop() error {
	log.Println("Stopping credit watch worker...")
	close(w.stop)
	return nil
}

func (w *CreditWatchWorker) scan(ctx context.Context) {
	overdue, err := w.store.GetOverdueCreditCustomers(ctx, time.Now())
	if err != nil {
		w.logger.Error("Overdue credit scan failed", zap.Error(err))
		return
	}

	for _, customer := range overdue {
		event := &models.CreditOverdueEvent{
			BaseEvent: models.BaseEvent{
				EventID:    uuid.New().String(),
				EventType:  models.EventTypeCreditOverdue,
				BusinessID: customer.BusinessID,
				Timestamp:  time.Now(),
			},
			CustomerID:  customer.ID,
			Outstanding: customer.OutstandingBalance,
			TermsDays:   customer.CreditTermsDays,
		}
		if err := w.eventPublisher.PublishCreditOverdue(ctx, event); err != nil {
			w.logger.Error("Failed to publish credit overdue event",
				zap.Int64("customer_id", customer.ID), zap.Error(err))
		}
	}

	if len(overdue) > 0 {
		w.logger.Info("Overdue credit scan pass", zap.Int("customers", len(overdue)))
	}
}
