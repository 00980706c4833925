package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/dispute-service/internal/config"
	"github.com/spec-kit/dispute-service/internal/events"
	"github.com/spec-kit/dispute-service/internal/observability"
)

// Publisher is the subset of *redis.Client used for fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NotificationService fans committed notify events out to recipients.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.NotificationConfig
}

// NotificationMessage is the JSON body published per recipient.
type NotificationMessage struct {
	Kind          events.EventType `json:"kind"`
	NotifyEventID int64            `json:"notify_event_id"`
	ContractID    int64            `json:"contract_id"`
	UserBy        int64            `json:"user_by"`
	EventType     string           `json:"event_type,omitempty"`
	StageNum      *int             `json:"stage_num,omitempty"`
	Finished      *int16           `json:"finished,omitempty"`
	ResultFile    string           `json:"result_file,omitempty"`
	Timestamp     string           `json:"timestamp"`
}

// NewNotificationService creates the service. A nil publisher keeps the
// service log-only.
func NewNotificationService(dispatcher events.Dispatcher, publisher Publisher, logger *zap.Logger, metrics *observability.Metrics, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventNotifyCreated, n.handleNotifyCreated)
	n.dispatcher.Subscribe(events.EventNotifySeen, n.handleNotifySeen)
}

func (n *NotificationService) handleNotifyCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.NotifyCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info("NotifyEventCreated",
		zap.Int64("contract_id", event.CaseID),
		zap.Int64("notify_event_id", payload.NotifyEventID),
		zap.String("event_type", string(payload.EventType)),
		zap.Int64s("recipients", payload.RecipientIDs))

	stageNum := payload.StageNum
	finished := int16(payload.Finished)
	msg := NotificationMessage{
		Kind:          event.Type,
		NotifyEventID: payload.NotifyEventID,
		ContractID:    event.CaseID,
		UserBy:        event.ActorID,
		EventType:     string(payload.EventType),
		StageNum:      &stageNum,
		Finished:      &finished,
		ResultFile:    payload.ResultFile,
		Timestamp:     event.Timestamp.UTC().Format(time.RFC3339),
	}
	return n.fanOut(ctx, msg, payload.RecipientIDs)
}

func (n *NotificationService) handleNotifySeen(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.NotifySeenPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info("NotifyEventSeen",
		zap.Int64("notify_event_id", payload.NotifyEventID),
		zap.Int64("recipient_id", payload.RecipientID))

	if payload.EmitterID == 0 || payload.EmitterID == payload.RecipientID {
		return nil
	}
	msg := NotificationMessage{
		Kind:          event.Type,
		NotifyEventID: payload.NotifyEventID,
		ContractID:    event.CaseID,
		UserBy:        payload.RecipientID,
		Timestamp:     event.Timestamp.UTC().Format(time.RFC3339),
	}
	return n.fanOut(ctx, msg, []int64{payload.EmitterID})
}

func (n *NotificationService) fanOut(ctx context.Context, msg NotificationMessage, recipients []int64) error {
	if n.publisher == nil || len(recipients) == 0 {
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var errs []error
	delivered := 0
	for _, id := range recipients {
		channel := n.Channel(id)
		if err := n.publisher.Publish(ctx, channel, body).Err(); err != nil {
			n.logger.Warn("notification publish failed", zap.String("channel", channel), zap.Error(err))
			errs = append(errs, fmt.Errorf("publish %s: %w", channel, err))
			continue
		}
		delivered++
	}
	n.metrics.RecordDeliveries(delivered)
	return errors.Join(errs...)
}

// Channel returns the Redis channel of a recipient.
func (n *NotificationService) Channel(userID int64) string {
	return n.cfg.ChannelPrefix + strconv.FormatInt(userID, 10)
}
