package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	rpctypes "github.com/weisyn/ledgernode/internal/api/jsonrpc/types"
	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
	"github.com/weisyn/ledgernode/internal/core/genesis"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/crypto/key"
	"github.com/weisyn/ledgernode/internal/core/network"
	"github.com/weisyn/ledgernode/internal/node/task"
	"github.com/weisyn/ledgernode/pkg/types"
)

// testNetwork 单验证者创世与两把节点密钥
type testNetwork struct {
	dir           string
	validator     *key.KeyPair
	validatorKey  string
	fullNodeKey   string
	genesisPath   string
	validatorAddr string
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()
	dir := t.TempDir()

	validator, err := key.Generate()
	require.NoError(t, err)
	full, err := key.Generate()
	require.NoError(t, err)

	tn := &testNetwork{
		dir:           dir,
		validator:     validator,
		validatorKey:  filepath.Join(dir, "validator.key"),
		fullNodeKey:   filepath.Join(dir, "full.key"),
		genesisPath:   filepath.Join(dir, "genesis.json"),
		validatorAddr: fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", freePort(t)),
	}
	require.NoError(t, validator.Save(tn.validatorKey))
	require.NoError(t, full.Save(tn.fullNodeKey))

	g, err := genesis.NewBuilder().
		AddValidator(validator.Name(), tn.validatorAddr, 1).
		AddObject(types.Object{ID: "coin-0", Owner: string(validator.Name()), Data: map[string]interface{}{"balance": 100.0}}).
		Build()
	require.NoError(t, err)
	require.NoError(t, g.Save(tn.genesisPath))
	return tn
}

type nodeSpec struct {
	validator    bool
	gossip       bool
	events       bool
	subscription bool
	supervision  string
}

func (tn *testNetwork) config(t *testing.T, name string, spec nodeSpec) *nodeconfig.NodeOptions {
	t.Helper()
	user := &types.UserNodeConfig{
		NetworkAddress:        types.StringPtr("/ip4/127.0.0.1/tcp/0"),
		MetricsAddress:        types.StringPtr(""),
		JSONRPCAddress:        types.StringPtr("127.0.0.1:0"),
		DBPath:                types.StringPtr(filepath.Join(tn.dir, name)),
		KeyPairPath:           types.StringPtr(tn.fullNodeKey),
		GenesisPath:           types.StringPtr(tn.genesisPath),
		EnableGossip:          types.BoolPtr(spec.gossip),
		EnableEventProcessing: types.BoolPtr(spec.events),
		BatchInterval:         types.StringPtr("50ms"),
		PeerClient: &types.UserPeerClientConfig{
			ConnectTimeout:    types.StringPtr("1s"),
			RequestTimeout:    types.StringPtr("1s"),
			KeepAliveInterval: types.StringPtr("1s"),
		},
	}
	if spec.validator {
		user.KeyPairPath = types.StringPtr(tn.validatorKey)
		user.NetworkAddress = types.StringPtr(tn.validatorAddr)
		user.Consensus = &types.UserConsensusConfig{}
	}
	if spec.subscription {
		user.WebsocketAddress = types.StringPtr("127.0.0.1:0")
	}
	if spec.supervision != "" {
		user.Supervision = types.StringPtr(spec.supervision)
	}
	return nodeconfig.New(user).GetOptions()
}

func testStorage() *badgerconfig.BadgerOptions {
	return &badgerconfig.BadgerOptions{
		MemTableSize:   1 << 20,
		BlockCacheSize: 1 << 20,
		IndexCacheSize: 1 << 20,
	}
}

func startNode(t *testing.T, cfg *nodeconfig.NodeOptions) *Node {
	t.Helper()
	n, err := Start(context.Background(), cfg, WithLogger(zaptest.NewLogger(t)), WithStorageOptions(testStorage()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, n.Close(ctx))
	})
	return n
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func assertStores(t *testing.T, cfg *nodeconfig.NodeOptions, present map[string]bool) {
	t.Helper()
	for dir, want := range present {
		assert.Equal(t, want, dirExists(filepath.Join(cfg.DBPath, dir)), "store %s", dir)
	}
}

func TestValidatorWithoutEvents(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "validator", nodeSpec{validator: true})
	n := startNode(t, cfg)

	assertStores(t, cfg, map[string]bool{
		StoreDir:       true,
		CheckpointsDir: true,
		IndexesDir:     false,
		FollowerDir:    true,
		EventsDir:      false,
		NodeSyncDir:    false,
	})
	assert.True(t, n.State().IsValidator())
	assert.Nil(t, n.State().IndexStore())
	assert.Nil(t, n.State().EventHandler())

	assert.Nil(t, n.Servers())
	assert.Nil(t, n.QueryAddress())
	assert.Nil(t, n.SubscriptionAddress())
	assert.Contains(t, n.PeerServices(), network.ValidatorServiceName)

	// gossip 关闭时没有任何复制任务
	assert.Nil(t, n.Task(TaskGossip))
	assert.Nil(t, n.Task(TaskNodeSync))
	assert.NotNil(t, n.Task(TaskBatch))
	assert.NotNil(t, n.Task(TaskPeerListener))
	assert.Nil(t, n.Task(TaskPostProcessing))
}

func TestValidatorWithGossipAndEvents(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "validator", nodeSpec{validator: true, gossip: true, events: true, subscription: true})
	n := startNode(t, cfg)

	assertStores(t, cfg, map[string]bool{CheckpointsDir: true, IndexesDir: false, EventsDir: true})
	require.NotNil(t, n.Task(TaskGossip))
	assert.Nil(t, n.Task(TaskNodeSync))
	assert.NotNil(t, n.Task(TaskPostProcessing))
	assert.NotNil(t, n.State().EventHandler())

	// 验证者从不启动查询或订阅服务器
	assert.Nil(t, n.Servers())
}

func TestFullNodeWithEventsAndSubscriptions(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "full", nodeSpec{events: true, subscription: true})
	n := startNode(t, cfg)

	assertStores(t, cfg, map[string]bool{
		StoreDir:       true,
		CheckpointsDir: false,
		IndexesDir:     true,
		FollowerDir:    true,
		EventsDir:      true,
		NodeSyncDir:    true,
	})
	assert.False(t, n.State().IsValidator())
	assert.NotNil(t, n.State().IndexStore())
	require.NotNil(t, n.State().EventHandler())

	assert.NotNil(t, n.Task(TaskNodeSync))
	assert.Nil(t, n.Task(TaskGossip))
	assert.NotNil(t, n.Task(TaskPostProcessing))

	assert.NotContains(t, n.PeerServices(), network.ValidatorServiceName)

	require.NotNil(t, n.Servers())
	assert.ElementsMatch(t, []string{"read", "full_node", "binary_read", "event_read"}, n.Servers().Query.Modules())
	require.NotNil(t, n.Servers().Subscription)
	assert.Equal(t, []string{"event_streaming"}, n.Servers().Subscription.Modules())
	assert.NotNil(t, n.Task(TaskQueryServer))
	assert.NotNil(t, n.Task(TaskSubscription))
}

func TestFullNodeIgnoresGossipFlag(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "full", nodeSpec{gossip: true})
	n := startNode(t, cfg)

	assert.NotNil(t, n.Task(TaskNodeSync))
	assert.Nil(t, n.Task(TaskGossip))
	assertStores(t, cfg, map[string]bool{EventsDir: false, NodeSyncDir: true})

	require.NotNil(t, n.Servers())
	assert.ElementsMatch(t, []string{"read", "full_node", "binary_read"}, n.Servers().Query.Modules())
	assert.Nil(t, n.Servers().Subscription)
	assert.Nil(t, n.Task(TaskSubscription))
}

func TestSubscriptionRequiresEventProcessing(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "full", nodeSpec{subscription: true})
	n := startNode(t, cfg)

	assert.Nil(t, n.SubscriptionAddress())
	assert.NotContains(t, n.Servers().Query.Modules(), "event_read")
}

func TestEventReadWithoutSubscriptionAddress(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "full", nodeSpec{events: true})
	n := startNode(t, cfg)

	assert.Nil(t, n.SubscriptionAddress())
	assert.Contains(t, n.Servers().Query.Modules(), "event_read")
}

func TestStartFailsWhenPeerAddressInUse(t *testing.T) {
	tn := newTestNetwork(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := tn.config(t, "full", nodeSpec{})
	cfg.NetworkAddress = fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", ln.Addr().(*net.TCPAddr).Port)
	n, err := Start(context.Background(), cfg, WithStorageOptions(testStorage()))
	require.Error(t, err)
	assert.Nil(t, n)

	// 失败时已打开的存储均已关闭，同一目录可再次启动
	cfg.NetworkAddress = "/ip4/127.0.0.1/tcp/0"
	startNode(t, cfg)
}

func TestStartFailsWhenQueryAddressInUse(t *testing.T) {
	tn := newTestNetwork(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := tn.config(t, "full", nodeSpec{})
	cfg.JSONRPCAddress = ln.Addr().String()
	_, err = Start(context.Background(), cfg, WithStorageOptions(testStorage()))
	require.Error(t, err)

	cfg.JSONRPCAddress = "127.0.0.1:0"
	startNode(t, cfg)
}

func TestStartFailsWhenStoreCannotOpen(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "full", nodeSpec{})
	require.NoError(t, os.MkdirAll(cfg.DBPath, 0o755))
	// indexes 被普通文件占用
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DBPath, IndexesDir), []byte("x"), 0o644))

	_, err := Start(context.Background(), cfg, WithStorageOptions(testStorage()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open stores")
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "full", nodeSpec{})
	cfg.GossipDegree = 0
	_, err := Start(context.Background(), cfg)
	require.ErrorIs(t, err, nodeconfig.ErrInvalidGossipDegree)

	cfg = tn.config(t, "full", nodeSpec{})
	cfg.GenesisPath = filepath.Join(tn.dir, "missing.json")
	_, err = Start(context.Background(), cfg)
	require.Error(t, err)
}

func TestWaitJoinsPeerListenerOnly(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "full", nodeSpec{})
	n := startNode(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, n.Wait(ctx), context.DeadlineExceeded)

	errCh := make(chan error, 1)
	go func() { errCh <- n.Wait(context.Background()) }()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	require.NoError(t, n.Close(closeCtx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Wait did not return after Close")
	}
	for _, h := range n.Tasks() {
		assert.True(t, h.Finished(), "task %s", h.Name())
	}
	// 重复关闭安全
	require.NoError(t, n.Close(closeCtx))
}

// failBatchService 关闭主存储，使批次任务在下一个周期读取失败
func failBatchService(t *testing.T, n *Node) *task.Handle {
	t.Helper()
	require.NoError(t, n.stores.authority.Close())
	batch := n.Task(TaskBatch)
	require.NotNil(t, batch)
	require.Eventually(t, batch.Finished, 5*time.Second, 20*time.Millisecond)
	require.Error(t, batch.Err())
	return batch
}

func TestDetachedFailureDoesNotEndWait(t *testing.T) {
	tn := newTestNetwork(t)
	n := startNode(t, tn.config(t, "validator", nodeSpec{validator: true}))

	failBatchService(t, n)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, n.Wait(ctx), context.DeadlineExceeded)
	assert.False(t, n.Task(TaskPeerListener).Finished())
}

func TestDetachedFailureEndsWaitUnderSupervisionAll(t *testing.T) {
	tn := newTestNetwork(t)
	n := startNode(t, tn.config(t, "validator", nodeSpec{validator: true, supervision: nodeconfig.SupervisionAll}))

	batch := failBatchService(t, n)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := n.Wait(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, batch.Err(), err)
}

func TestPeerListenerFailureEndsWait(t *testing.T) {
	tn := newTestNetwork(t)
	n := startNode(t, tn.config(t, "validator", nodeSpec{validator: true}))

	require.NoError(t, n.peer.Listener().Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := n.Wait(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "peer listener")
	assert.True(t, n.Task(TaskPeerListener).Finished())
	// 分离任务仍在运行
	assert.False(t, n.Task(TaskBatch).Finished())
}

func TestSupervisionAllJoinsEveryTask(t *testing.T) {
	tn := newTestNetwork(t)
	cfg := tn.config(t, "full", nodeSpec{events: true, subscription: true, supervision: nodeconfig.SupervisionAll})
	n := startNode(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, n.Wait(ctx), context.DeadlineExceeded)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	require.NoError(t, n.Close(closeCtx))

	err := n.Wait(closeCtx)
	assert.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected error: %v", err)
	for _, h := range n.Tasks() {
		assert.True(t, h.Finished(), "task %s", h.Name())
	}
}

func TestStateIsShared(t *testing.T) {
	tn := newTestNetwork(t)
	n := startNode(t, tn.config(t, "validator", nodeSpec{validator: true}))
	assert.Same(t, n.State(), n.State())

	obj, err := n.State().Object("coin-0")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), obj.Version)
}

func rpcCall(t *testing.T, addr net.Addr, method string, params ...interface{}) rpctypes.Response {
	t.Helper()
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	resp, err := http.Post("http://"+addr.String()+"/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out rpctypes.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestFullNodeReplicatesFromValidator(t *testing.T) {
	tn := newTestNetwork(t)
	validator := startNode(t, tn.config(t, "validator", nodeSpec{validator: true}))
	full := startNode(t, tn.config(t, "full", nodeSpec{events: true, subscription: true}))

	// 先订阅，再提交交易
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+full.SubscriptionAddress().String()+"/", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "ledger_subscribeEvent",
		"params": []interface{}{map[string]string{"module": "coin"}},
	}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(20*time.Second)))
	var subResp rpctypes.Response
	require.NoError(t, ws.ReadJSON(&subResp))
	require.Nil(t, subResp.Error)

	client, err := network.NewAuthorityClient(network.DefaultConfig(), tn.validator.Name(), validator.PeerAddress().String())
	require.NoError(t, err)
	defer client.Close()

	sender, err := key.Generate()
	require.NoError(t, err)
	tx := &types.Transaction{
		Sender: sender.Name(),
		Module: "coin",
		Nonce:  1,
		Writes: []types.Object{{ID: "coin-1", Data: map[string]interface{}{"balance": 5.0}}},
		Events: []types.EventSpec{{Type: "minted"}},
	}
	sender.SignTransaction(tx)
	exec, err := client.SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)

	// 批次封装后全节点拉取并执行
	require.Eventually(t, func() bool {
		resp := rpcCall(t, full.QueryAddress(), "ledger_getTransaction", exec.Digest.String())
		return resp.Error == nil
	}, 20*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		resp := rpcCall(t, full.QueryAddress(), "ledger_getTransactionsBySender", string(sender.Name()))
		list, ok := resp.Result.([]interface{})
		return ok && len(list) == 1
	}, 10*time.Second, 100*time.Millisecond)

	resp := rpcCall(t, full.QueryAddress(), "ledger_getObject", "coin-1")
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(1), resp.Result.(map[string]interface{})["version"])

	var note map[string]interface{}
	require.NoError(t, ws.ReadJSON(&note))
	assert.Equal(t, "ledger_subscription", note["method"])

	batch, err := validator.State().LatestBatch()
	require.NoError(t, err)
	require.NotNil(t, batch)
	cp, err := validator.State().LatestCheckpoint()
	require.NoError(t, err)
	require.NotNil(t, cp)
}
