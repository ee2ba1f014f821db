package methods

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc"
	rpctypes "github.com/weisyn/ledgernode/internal/api/jsonrpc/types"
	apitypes "github.com/weisyn/ledgernode/internal/api/types"
	"github.com/weisyn/ledgernode/internal/core/authority"
	"github.com/weisyn/ledgernode/internal/core/storage"
	"github.com/weisyn/ledgernode/pkg/types"
)

type fakeLedger struct {
	objects map[string]*types.Object
	txs     map[types.Digest]*types.ExecutedTransaction
	failing bool

	inRange  [2]uint64
	bySender types.AuthorityName
	limit    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		objects: map[string]*types.Object{},
		txs:     map[types.Digest]*types.ExecutedTransaction{},
	}
}

func (f *fakeLedger) Object(id string) (*types.Object, error) {
	if f.failing {
		return nil, errors.New("disk on fire")
	}
	obj, ok := f.objects[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return obj, nil
}

func (f *fakeLedger) Transaction(d types.Digest) (*types.ExecutedTransaction, error) {
	tx, ok := f.txs[d]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return tx, nil
}

func (f *fakeLedger) TransactionCount() (uint64, error) { return uint64(len(f.txs)), nil }

func (f *fakeLedger) TransactionsInRange(start, end uint64) ([]types.Digest, error) {
	f.inRange = [2]uint64{start, end}
	return []types.Digest{types.Sum256([]byte("a"))}, nil
}

func (f *fakeLedger) TransactionsBySender(sender types.AuthorityName, limit int) ([]types.Digest, error) {
	f.bySender, f.limit = sender, limit
	return nil, nil
}

func (f *fakeLedger) TransactionsByObject(_ string, limit int) ([]types.Digest, error) {
	f.limit = limit
	return nil, nil
}

func call(t *testing.T, h jsonrpc.MethodHandler, ctx context.Context, params string) (interface{}, error) {
	t.Helper()
	return h(ctx, json.RawMessage(params))
}

func requireProblem(t *testing.T, err error, code string, status int) {
	t.Helper()
	problem, ok := apitypes.IsProblemDetails(err)
	require.True(t, ok, "expected problem details, got %v", err)
	assert.Equal(t, code, problem.Code)
	assert.Equal(t, status, problem.Status)
}

func TestReadAPI(t *testing.T) {
	ledger := newFakeLedger()
	ledger.objects["coin"] = &types.Object{ID: "coin", Owner: "alice", Version: 3}
	digest := types.Sum256([]byte("tx"))
	ledger.txs[digest] = &types.ExecutedTransaction{Sequence: 0, Digest: digest}

	api := NewReadAPI(ledger)
	assert.Equal(t, "read", api.Name())
	assert.Len(t, api.Methods(), 3)
	ctx := context.Background()

	got, err := call(t, api.GetObject, ctx, `["coin"]`)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.(*types.Object).Version)

	_, err = call(t, api.GetObject, ctx, `["missing"]`)
	requireProblem(t, err, apitypes.CodeLedgerObjectNotFound, http.StatusNotFound)

	_, err = call(t, api.GetObject, ctx, `[]`)
	requireProblem(t, err, apitypes.CodeCommonValidationError, http.StatusBadRequest)

	_, err = call(t, api.GetObject, ctx, `{"id":"coin"}`)
	requireProblem(t, err, apitypes.CodeCommonValidationError, http.StatusBadRequest)

	got, err = call(t, api.GetTransaction, ctx, `["`+digest.String()+`"]`)
	require.NoError(t, err)
	assert.Equal(t, digest, got.(*types.ExecutedTransaction).Digest)

	_, err = call(t, api.GetTransaction, ctx, `["`+types.Sum256([]byte("other")).String()+`"]`)
	requireProblem(t, err, apitypes.CodeLedgerTxNotFound, http.StatusNotFound)

	_, err = call(t, api.GetTransaction, ctx, `["zz"]`)
	requireProblem(t, err, apitypes.CodeCommonValidationError, http.StatusBadRequest)

	got, err = call(t, api.GetTotalTransactionNumber, ctx, ``)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)

	ledger.failing = true
	_, err = call(t, api.GetObject, ctx, `["coin"]`)
	requireProblem(t, err, apitypes.CodeCommonInternalError, http.StatusInternalServerError)
}

func TestFullNodeAPI(t *testing.T) {
	ledger := newFakeLedger()
	api := NewFullNodeAPI(ledger)
	assert.Equal(t, "full_node", api.Name())
	ctx := context.Background()

	got, err := call(t, api.GetTransactionsInRange, ctx, `[5, 10]`)
	require.NoError(t, err)
	assert.Equal(t, [2]uint64{5, 10}, ledger.inRange)
	assert.Equal(t, []string{types.Sum256([]byte("a")).String()}, got)

	_, err = call(t, api.GetTransactionsInRange, ctx, `[10, 5]`)
	requireProblem(t, err, apitypes.CodeCommonValidationError, http.StatusBadRequest)

	_, err = call(t, api.GetTransactionsInRange, ctx, `[0, 5000]`)
	requireProblem(t, err, apitypes.CodeCommonValidationError, http.StatusBadRequest)

	got, err = call(t, api.GetTransactionsBySender, ctx, `["alice"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{}, got)
	assert.Equal(t, types.AuthorityName("alice"), ledger.bySender)
	assert.Equal(t, defaultQueryLimit, ledger.limit)

	_, err = call(t, api.GetTransactionsByObject, ctx, `["coin", 99999]`)
	require.NoError(t, err)
	assert.Equal(t, maxQueryLimit, ledger.limit)
}

func TestBinaryAPI(t *testing.T) {
	ledger := newFakeLedger()
	obj := &types.Object{ID: "coin", Owner: "alice", Version: 2, Data: map[string]interface{}{"value": float64(10)}}
	ledger.objects["coin"] = obj
	api := NewBinaryAPI(ledger)
	assert.Equal(t, "binary_read", api.Name())

	got, err := call(t, api.GetRawObject, context.Background(), `["coin"]`)
	require.NoError(t, err)
	raw := got.(*RawObject)
	assert.Equal(t, uint64(2), raw.Version)

	decoded, err := base64.StdEncoding.DecodeString(raw.Bytes)
	require.NoError(t, err)
	back, err := DecodeObject(decoded)
	require.NoError(t, err)
	assert.Equal(t, obj, back)

	// 编码确定
	again, err := EncodeObject(obj)
	require.NoError(t, err)
	assert.Equal(t, decoded, again)

	_, err = call(t, api.GetRawObject, context.Background(), `["missing"]`)
	requireProblem(t, err, apitypes.CodeLedgerObjectNotFound, http.StatusNotFound)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []types.Event
	subs   map[string]chan types.Event
	nextID int
}

func newFakeEvents(events ...types.Event) *fakeEvents {
	return &fakeEvents{events: events, subs: map[string]chan types.Event{}}
}

func (f *fakeEvents) ByTransaction(d types.Digest) ([]types.Event, error) {
	var out []types.Event
	for _, ev := range f.events {
		if ev.TxDigest == d {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEvents) ByModule(module string, limit int) ([]types.Event, error) {
	var out []types.Event
	for _, ev := range f.events {
		if ev.Module == module && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEvents) Recent(limit int) ([]types.Event, error) {
	if limit > len(f.events) {
		limit = len(f.events)
	}
	return f.events[:limit], nil
}

func (f *fakeEvents) Subscribe(filter authority.EventFilter) *authority.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := string(rune('a' + f.nextID))
	ch := make(chan types.Event, 4)
	f.subs[id] = ch
	return &authority.Subscription{ID: id, Filter: filter, C: ch}
}

func (f *fakeEvents) Unsubscribe(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[id]
	if ok {
		close(ch)
		delete(f.subs, id)
	}
	return ok
}

func (f *fakeEvents) publish(ev types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- ev
	}
}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func TestEventReadAPI(t *testing.T) {
	d := types.Sum256([]byte("tx"))
	events := newFakeEvents(
		types.Event{TxDigest: d, Module: "coin", Type: "minted"},
		types.Event{TxDigest: types.Sum256([]byte("other")), Module: "nft", Type: "created"},
	)
	api := NewEventReadAPI(events)
	assert.Equal(t, "event_read", api.Name())
	ctx := context.Background()

	got, err := call(t, api.GetEventsByTransaction, ctx, `["`+d.String()+`"]`)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = call(t, api.GetEventsByModule, ctx, `["unknown"]`)
	require.NoError(t, err)
	assert.Equal(t, []types.Event{}, got)

	got, err = call(t, api.GetRecentEvents, ctx, `[1]`)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

type recordingNotifier struct {
	mu       sync.Mutex
	notes    []rpctypes.SubscriptionResult
	cleanups []func()
	done     chan struct{}
}

func (n *recordingNotifier) Notify(method string, params interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if method != SubscriptionNotification {
		return errors.New("unexpected method")
	}
	n.notes = append(n.notes, params.(rpctypes.SubscriptionResult))
	return nil
}

func (n *recordingNotifier) OnClose(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleanups = append(n.cleanups, fn)
}

func (n *recordingNotifier) Done() <-chan struct{} { return n.done }

func (n *recordingNotifier) received() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func (n *recordingNotifier) close() {
	close(n.done)
	for _, fn := range n.cleanups {
		fn()
	}
}

func TestEventStreamingAPI(t *testing.T) {
	events := newFakeEvents()
	api := NewEventStreamingAPI(events, nil)
	assert.Equal(t, "event_streaming", api.Name())

	// HTTP 请求上下文没有通知通道
	_, err := call(t, api.SubscribeEvent, context.Background(), `[]`)
	var rpcErr *rpctypes.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpctypes.CodeSubscriptionUnsupported, rpcErr.Code)

	n := &recordingNotifier{done: make(chan struct{})}
	ctx := jsonrpc.WithNotifier(context.Background(), n)

	got, err := call(t, api.SubscribeEvent, ctx, `[{"module":"coin"}]`)
	require.NoError(t, err)
	id := got.(string)
	assert.Equal(t, 1, events.count())

	events.publish(types.Event{Module: "coin", Type: "minted"})
	require.Eventually(t, func() bool { return n.received() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, id, n.notes[0].Subscription)

	got, err = call(t, api.UnsubscribeEvent, ctx, `["`+id+`"]`)
	require.NoError(t, err)
	assert.Equal(t, true, got)
	got, err = call(t, api.UnsubscribeEvent, ctx, `["`+id+`"]`)
	require.NoError(t, err)
	assert.Equal(t, false, got)

	// 连接关闭时释放订阅
	_, err = call(t, api.SubscribeEvent, ctx, `[]`)
	require.NoError(t, err)
	assert.Equal(t, 1, events.count())
	n.close()
	assert.Equal(t, 0, events.count())
}
