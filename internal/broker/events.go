package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"pos-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes audit and notification events. Audit delivery
// is fire-and-forget from the core's perspective: a publish failure must
// never abort a committed sale, so callers log and move on.
type EventPublisher struct {
	audit  *Producer
	notify *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(audit, notify *Producer) *EventPublisher {
	return &EventPublisher{audit: audit, notify: notify}
}

func saleKey(saleID int64) string {
	return fmt.Sprintf("sale-%d", saleID)
}

// PublishSaleCompleted publishes the audit record of a finalized sale
func (ep *EventPublisher) PublishSaleCompleted(ctx context.Context, event *models.SaleCompletedEvent) error {
	return ep.audit.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishSaleCancelled publishes the audit record of an abandoned cart
func (ep *EventPublisher) PublishSaleCancelled(ctx context.Context, event *models.SaleCancelledEvent) error {
	return ep.audit.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishPaymentRecorded publishes the audit record of a payment
func (ep *EventPublisher) PublishPaymentRecorded(ctx context.Context, event *models.PaymentRecordedEvent) error {
	return ep.audit.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishSaleRefunded publishes the audit record of a refund
func (ep *EventPublisher) PublishSaleRefunded(ctx context.Context, event *models.SaleRefundedEvent) error {
	return ep.audit.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishCreditCharged publishes the audit record of booked credit exposure
func (ep *EventPublisher) PublishCreditCharged(ctx context.Context, event *models.CreditChargedEvent) error {
	return ep.audit.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishCreditOverride publishes the audit record of a manager override.
// The override is only legal because this record exists.
func (ep *EventPublisher) PublishCreditOverride(ctx context.Context, event *models.CreditOverrideEvent) error {
	return ep.audit.PublishEvent(ctx, fmt.Sprintf("customer-%d", event.CustomerID), event)
}

// PublishLowStock publishes a low-stock notification
func (ep *EventPublisher) PublishLowStock(ctx context.Context, event *models.LowStockEvent) error {
	return ep.notify.PublishEvent(ctx, fmt.Sprintf("stockline-%d", event.StockLineID), event)
}

// PublishCreditOverdue publishes an overdue-balance notification
func (ep *EventPublisher) PublishCreditOverdue(ctx context.Context, event *models.CreditOverdueEvent) error {
	return ep.notify.PublishEvent(ctx, fmt.Sprintf("customer-%d", event.CustomerID), event)
}

// PublishReservationSwept publishes the audit record of a sweep pass
func (ep *EventPublisher) PublishReservationSwept(ctx context.Context, event *models.ReservationSweptEvent) error {
	return ep.audit.PublishEvent(ctx, "reservation-sweep", event)
}

// EventHandler routes notification events to registered handlers
type EventHandler struct {
	onLowStock      func(context.Context, *models.LowStockEvent) error
	onCreditOverdue func(context.Context, *models.CreditOverdueEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnLowStock registers a handler for LowStock events
func (eh *EventHandler) OnLowStock(handler func(context.Context, *models.LowStockEvent) error) {
	eh.onLowStock = handler
}

// OnCreditOverdue registers a handler for CreditOverdue events
func (eh *EventHandler) OnCreditOverdue(handler func(context.Context, *models.CreditOverdueEvent) error) {
	eh.onCreditOverdue = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeLowStock:
		if eh.onLowStock != nil {
			var event models.LowStockEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LowStock event: %w", err)
			}
			return eh.onLowStock(ctx, &event)
		}

	case models.EventTypeCreditOverdue:
		if eh.onCreditOverdue != nil {
			var event models.CreditOverdueEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CreditOverdue event: %w", err)
			}
			return eh.onCreditOverdue(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
