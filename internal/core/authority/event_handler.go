package authority

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weisyn/ledgernode/internal/core/storage"
	"github.com/weisyn/ledgernode/pkg/types"
)

const (
	eventTopic            = "ledger:event"
	subscriptionBufferLen = 64
)

// EventFilter 订阅过滤条件，空字段表示不限
type EventFilter struct {
	Module    string              `json:"module,omitempty"`
	EventType string              `json:"event_type,omitempty"`
	Sender    types.AuthorityName `json:"sender,omitempty"`
}

// Matches 事件是否满足过滤条件
func (f EventFilter) Matches(ev *types.Event) bool {
	if f.Module != "" && f.Module != ev.Module {
		return false
	}
	if f.EventType != "" && f.EventType != ev.Type {
		return false
	}
	if f.Sender != "" && f.Sender != ev.Sender {
		return false
	}
	return true
}

// Subscription 事件订阅；C 在取消订阅或处理器关闭时关闭
type Subscription struct {
	ID     string
	Filter EventFilter
	C      <-chan types.Event

	ch chan types.Event
}

// EventHandler 事件存储与订阅分发
type EventHandler struct {
	store  *storage.EventStore
	bus    evbus.Bus
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	dropped atomic.Uint64
}

// NewEventHandler 基于已初始化的事件存储创建处理器
func NewEventHandler(store *storage.EventStore, logger *zap.Logger) *EventHandler {
	h := &EventHandler{
		store:  store,
		bus:    evbus.New(),
		logger: logger.With(zap.String("component", "event_handler")),
		subs:   make(map[string]*Subscription),
	}
	// dispatch 签名固定，Subscribe 不会失败
	_ = h.bus.Subscribe(eventTopic, h.dispatch)
	return h
}

// Process 持久化交易产生的事件并推送给订阅者
func (h *EventHandler) Process(exec *types.ExecutedTransaction) error {
	if err := h.store.Insert(exec.Events, exec.Sequence+1); err != nil {
		return err
	}
	for i := range exec.Events {
		h.bus.Publish(eventTopic, exec.Events[i])
	}
	return nil
}

func (h *EventHandler) dispatch(ev types.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.Filter.Matches(&ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// 慢订阅者丢弃，不阻塞后处理
			if n := h.dropped.Add(1); n%1000 == 1 {
				h.logger.Warn("event subscriber is lagging, dropping events",
					zap.String("subscription", sub.ID),
					zap.Uint64("dropped_total", n))
			}
		}
	}
}

// Subscribe 注册订阅
func (h *EventHandler) Subscribe(filter EventFilter) *Subscription {
	ch := make(chan types.Event, subscriptionBufferLen)
	sub := &Subscription{ID: uuid.NewString(), Filter: filter, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe 取消订阅，订阅不存在时返回 false
func (h *EventHandler) Unsubscribe(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return false
	}
	delete(h.subs, id)
	close(sub.ch)
	return true
}

// SubscriptionCount 当前订阅数
func (h *EventHandler) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped 因订阅者积压而丢弃的事件数
func (h *EventHandler) Dropped() uint64 { return h.dropped.Load() }

// ByTransaction 交易产生的事件
func (h *EventHandler) ByTransaction(digest types.Digest) ([]types.Event, error) {
	return h.store.ByTransaction(digest)
}

// ByModule 模块产生的事件
func (h *EventHandler) ByModule(module string, limit int) ([]types.Event, error) {
	return h.store.ByModule(module, limit)
}

// Recent 最近的事件
func (h *EventHandler) Recent(limit int) ([]types.Event, error) {
	return h.store.Recent(limit)
}

// Close 关闭所有订阅
func (h *EventHandler) Close() {
	_ = h.bus.Unsubscribe(eventTopic, h.dispatch)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}
