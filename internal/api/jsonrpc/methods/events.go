package methods

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc"
	"github.com/weisyn/ledgernode/internal/api/jsonrpc/types"
	"github.com/weisyn/ledgernode/internal/core/authority"
	ledgertypes "github.com/weisyn/ledgernode/pkg/types"
)

// SubscriptionNotification 事件推送的通知方法名
const SubscriptionNotification = "ledger_subscription"

// EventReader 事件查询
type EventReader interface {
	ByTransaction(digest ledgertypes.Digest) ([]ledgertypes.Event, error)
	ByModule(module string, limit int) ([]ledgertypes.Event, error)
	Recent(limit int) ([]ledgertypes.Event, error)
}

// EventReadAPI 事件查询模块
type EventReadAPI struct {
	events EventReader
}

// NewEventReadAPI 创建事件查询模块
func NewEventReadAPI(events EventReader) *EventReadAPI {
	return &EventReadAPI{events: events}
}

// Name 模块名
func (a *EventReadAPI) Name() string { return "event_read" }

// Methods 方法表
func (a *EventReadAPI) Methods() map[string]jsonrpc.MethodHandler {
	return map[string]jsonrpc.MethodHandler{
		"ledger_getEventsByTransaction": a.GetEventsByTransaction,
		"ledger_getEventsByModule":      a.GetEventsByModule,
		"ledger_getRecentEvents":        a.GetRecentEvents,
	}
}

// GetEventsByTransaction Params: [digest: hex string]
func (a *EventReadAPI) GetEventsByTransaction(_ context.Context, params json.RawMessage) (interface{}, error) {
	var hex string
	if err := parsePositional(params, 1, &hex); err != nil {
		return nil, err
	}
	digest, err := parseDigest(hex)
	if err != nil {
		return nil, err
	}
	return nonNil(a.events.ByTransaction(digest))
}

// GetEventsByModule Params: [module: string, limit?: int]
func (a *EventReadAPI) GetEventsByModule(_ context.Context, params json.RawMessage) (interface{}, error) {
	var (
		module string
		limit  int
	)
	if err := parsePositional(params, 1, &module, &limit); err != nil {
		return nil, err
	}
	return nonNil(a.events.ByModule(module, clampLimit(limit)))
}

// GetRecentEvents Params: [limit?: int]，新到旧
func (a *EventReadAPI) GetRecentEvents(_ context.Context, params json.RawMessage) (interface{}, error) {
	var limit int
	if err := parsePositional(params, 0, &limit); err != nil {
		return nil, err
	}
	return nonNil(a.events.Recent(clampLimit(limit)))
}

func nonNil(events []ledgertypes.Event, err error) (interface{}, error) {
	if err != nil {
		return nil, NewInternalError(err.Error(), nil)
	}
	if events == nil {
		events = []ledgertypes.Event{}
	}
	return events, nil
}

// EventSubscriber 事件订阅
type EventSubscriber interface {
	Subscribe(filter authority.EventFilter) *authority.Subscription
	Unsubscribe(id string) bool
}

// EventStreamingAPI 事件订阅模块，仅 WebSocket 可用
type EventStreamingAPI struct {
	events EventSubscriber
	logger *zap.Logger
}

// NewEventStreamingAPI 创建事件订阅模块
func NewEventStreamingAPI(events EventSubscriber, logger *zap.Logger) *EventStreamingAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStreamingAPI{events: events, logger: logger}
}

// Name 模块名
func (a *EventStreamingAPI) Name() string { return "event_streaming" }

// Methods 方法表
func (a *EventStreamingAPI) Methods() map[string]jsonrpc.MethodHandler {
	return map[string]jsonrpc.MethodHandler{
		"ledger_subscribeEvent":   a.SubscribeEvent,
		"ledger_unsubscribeEvent": a.UnsubscribeEvent,
	}
}

// SubscribeEvent 订阅事件，返回订阅 ID；之后事件以 ledger_subscription 通知推送
// Params: [filter?: {module, event_type, sender}]
func (a *EventStreamingAPI) SubscribeEvent(ctx context.Context, params json.RawMessage) (interface{}, error) {
	notifier, ok := jsonrpc.NotifierFromContext(ctx)
	if !ok {
		return nil, types.ErrSubscriptionUnsupported()
	}
	var filter authority.EventFilter
	if err := parsePositional(params, 0, &filter); err != nil {
		return nil, err
	}

	sub := a.events.Subscribe(filter)
	notifier.OnClose(func() { a.events.Unsubscribe(sub.ID) })
	go a.forward(sub, notifier)

	a.logger.Info("Subscription created",
		zap.String("id", sub.ID),
		zap.String("module", filter.Module),
		zap.String("event_type", filter.EventType))
	return sub.ID, nil
}

// forward 转发事件直到订阅关闭或连接断开
func (a *EventStreamingAPI) forward(sub *authority.Subscription, notifier jsonrpc.Notifier) {
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			err := notifier.Notify(SubscriptionNotification, types.SubscriptionResult{Subscription: sub.ID, Result: ev})
			if err != nil {
				a.logger.Debug("Failed to push event, dropping subscription",
					zap.String("id", sub.ID),
					zap.Error(err))
				a.events.Unsubscribe(sub.ID)
				return
			}
		case <-notifier.Done():
			return
		}
	}
}

// UnsubscribeEvent Params: [id: string]，订阅不存在时返回 false
func (a *EventStreamingAPI) UnsubscribeEvent(_ context.Context, params json.RawMessage) (interface{}, error) {
	var id string
	if err := parsePositional(params, 1, &id); err != nil {
		return nil, err
	}
	removed := a.events.Unsubscribe(id)
	if removed {
		a.logger.Info("Subscription cancelled", zap.String("subscription_id", id))
	}
	return removed, nil
}
