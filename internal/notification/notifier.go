package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/pkg/circuitbreaker"
	"github.com/fjod/go_cart/storefront-checkout/pkg/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultTopic = "storefront-orders"

	EventOrderCreated = "OrderCreated"
)

// Notifier tells the outside world about placed orders. Delivery is best-effort.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, order *domain.Order) error
}

// OrderCreatedEvent is the message body published for a new order
type OrderCreatedEvent struct {
	OrderID        string             `json:"order_id"`
	OwnerRef       *string            `json:"owner_ref,omitempty"`
	Lines          []domain.OrderLine `json:"lines"`
	VoucherApplied *string            `json:"voucher_applied,omitempty"`
	PointsRedeemed int64              `json:"points_redeemed"`
	FinalTotal     int64              `json:"final_total"`
	PaymentMethod  string             `json:"payment_method"`
	CreatedAt      time.Time          `json:"created_at"`
}

func NewOrderCreatedEvent(order *domain.Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:        order.ID.String(),
		OwnerRef:       order.OwnerRef,
		Lines:          order.Lines,
		VoucherApplied: order.VoucherApplied,
		PointsRedeemed: order.PointsRedeemed,
		FinalTotal:     order.FinalTotal,
		PaymentMethod:  order.PaymentMethod,
		CreatedAt:      order.CreatedAt,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes order events keyed by order id, so events of one order stay in one partition
type KafkaNotifier struct {
	writer  messageWriter
	breaker *circuitbreaker.Breaker
	timeout time.Duration
	log     *zap.Logger
}

func NewKafkaNotifier(brokers []string, topic string, log *zap.Logger) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return newKafkaNotifier(w, log)
}

func newKafkaNotifier(w messageWriter, log *zap.Logger) *KafkaNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaNotifier{
		writer:  w,
		breaker: circuitbreaker.New(circuitbreaker.DefaultSettings("kafka-notifier"), log),
		timeout: 5 * time.Second,
		log:     log.Named("notifier"),
	}
}

func (n *KafkaNotifier) NotifyOrderCreated(ctx context.Context, order *domain.Order) error {
	payload, err := json.Marshal(NewOrderCreatedEvent(order))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(order.ID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventOrderCreated)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err = n.breaker.Do(func() error {
		return n.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		logger.FromContext(ctx, n.log).Warn("order event not published",
			zap.String("order_id", order.ID.String()),
			zap.String("breaker", n.breaker.State()),
			zap.Error(err))
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier only logs; used when no broker is configured
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notifier")}
}

func (n *LogNotifier) NotifyOrderCreated(ctx context.Context, order *domain.Order) error {
	logger.FromContext(ctx, n.log).Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.Int64("final_total", order.FinalTotal))
	return nil
}
