package replication

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/storage/badger"
	"github.com/weisyn/ledgernode/internal/core/storage"
	"github.com/weisyn/ledgernode/pkg/types"
)

func openDB(t *testing.T, name string) *badger.Store {
	t.Helper()
	cfg := badgerconfig.NewFromOptions(&badgerconfig.BadgerOptions{
		Path:           filepath.Join(t.TempDir(), name),
		MemTableSize:   1 << 20,
		BlockCacheSize: 1 << 20,
		IndexCacheSize: 1 << 20,
	})
	db, err := badger.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeState struct {
	name types.AuthorityName

	mu      sync.Mutex
	applied map[types.Digest]*types.ExecutedTransaction
	order   []types.Digest
}

func newFakeState(name types.AuthorityName) *fakeState {
	return &fakeState{name: name, applied: make(map[types.Digest]*types.ExecutedTransaction)}
}

func (s *fakeState) Name() types.AuthorityName { return s.name }

func (s *fakeState) Transaction(d types.Digest) (*types.ExecutedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec, ok := s.applied[d]; ok {
		return exec, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeState) HandleTransaction(_ context.Context, tx *types.Transaction) (*types.ExecutedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := tx.Digest()
	if exec, ok := s.applied[d]; ok {
		return exec, nil
	}
	exec := &types.ExecutedTransaction{Sequence: uint64(len(s.order)), Digest: d, Transaction: *tx}
	s.applied[d] = exec
	s.order = append(s.order, d)
	return exec, nil
}

func (s *fakeState) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

type fakePeer struct {
	name types.AuthorityName

	mu        sync.Mutex
	batches   []*types.Batch
	txs       map[types.Digest]*types.ExecutedTransaction
	failFetch bool
	calls     int
}

func newFakePeer(name types.AuthorityName, batches, perBatch int) *fakePeer {
	p := &fakePeer{name: name, txs: make(map[types.Digest]*types.ExecutedTransaction)}
	for b := 0; b < batches; b++ {
		batch := &types.Batch{Sequence: uint64(b)}
		for i := 0; i < perBatch; i++ {
			tx := types.Transaction{Sender: types.AuthorityName(name), Module: "coin", Nonce: uint64(b*perBatch + i)}
			d := tx.Digest()
			p.txs[d] = &types.ExecutedTransaction{Digest: d, Transaction: tx}
			batch.Transactions = append(batch.Transactions, d)
		}
		p.batches = append(p.batches, batch)
	}
	return p
}

func (p *fakePeer) Name() types.AuthorityName { return p.name }

func (p *fakePeer) BatchInfo(_ context.Context, start uint64, limit int) ([]*types.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	var out []*types.Batch
	for _, b := range p.batches {
		if b.Sequence >= start && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *fakePeer) TransactionInfo(_ context.Context, d types.Digest) (*types.ExecutedTransaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFetch {
		return nil, errors.New("peer unavailable")
	}
	exec, ok := p.txs[d]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", d, storage.ErrNotFound)
	}
	return exec, nil
}

func (p *fakePeer) batchCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newActive(t *testing.T, state State, followers *storage.FollowerStore, peers ...AuthorityAPI) *ActiveAuthority {
	t.Helper()
	a, err := New(Params{
		State:     state,
		Followers: followers,
		Clients:   peers,
		Registry:  prometheus.NewRegistry(),
		Logger:    zap.NewNop(),
		Interval:  20 * time.Millisecond,
	})
	require.NoError(t, err)
	return a
}

func TestNewRequiresClients(t *testing.T) {
	_, err := New(Params{State: newFakeState("self"), Followers: storage.NewFollowerStore(openDB(t, "f"))})
	require.ErrorIs(t, err, ErrNoAuthorities)
}

func TestPeersExcludeSelf(t *testing.T) {
	a := newActive(t, newFakeState("b"), storage.NewFollowerStore(openDB(t, "f")),
		newFakePeer("c", 0, 0), newFakePeer("a", 0, 0), newFakePeer("b", 0, 0))
	assert.Equal(t, []types.AuthorityName{"a", "c"}, a.Peers())
}

func TestGossipAppliesBatchesAndAdvancesCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := newFakeState("self")
	followers := storage.NewFollowerStore(openDB(t, "follower_db"))
	p1 := newFakePeer("p1", 3, 2)
	p2 := newFakePeer("p2", 1, 4)
	self := newFakePeer("self", 5, 5)
	a := newActive(t, state, followers, p1, p2, self)

	h := a.SpawnGossip(ctx, 4)
	require.Eventually(t, func() bool { return state.count() == 10 }, 5*time.Second, 10*time.Millisecond)

	c1, err := followers.Cursor("p1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c1)
	c2, err := followers.Cursor("p2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c2)
	assert.Zero(t, self.batchCalls(), "node never gossips with itself")

	cancel()
	require.NoError(t, h.Wait(context.Background()))
}

func TestGossipDegreeLimitsPeersPerRound(t *testing.T) {
	state := newFakeState("self")
	peers := []*fakePeer{newFakePeer("a", 1, 1), newFakePeer("b", 1, 1), newFakePeer("c", 1, 1)}
	a := newActive(t, state, storage.NewFollowerStore(openDB(t, "f")), peers[0], peers[1], peers[2])

	a.gossipRound(context.Background(), 1, zap.NewNop())
	total := 0
	for _, p := range peers {
		total += p.batchCalls()
	}
	assert.Equal(t, 1, total)
}

func TestGossipRejectsInvalidDegree(t *testing.T) {
	a := newActive(t, newFakeState("self"), storage.NewFollowerStore(openDB(t, "f")), newFakePeer("a", 0, 0))
	h := a.SpawnGossip(context.Background(), 0)
	err := h.Wait(context.Background())
	require.Error(t, err)
}

func TestNodeSyncRecordsPendingBeforeApplying(t *testing.T) {
	state := newFakeState("full")
	followers := storage.NewFollowerStore(openDB(t, "follower_db"))
	pending := storage.NewNodeSyncStore(openDB(t, "node_sync_db"))
	peer := newFakePeer("v0", 2, 3)
	peer.failFetch = true
	a := newActive(t, state, followers, peer)

	// 拉取失败时摘要保留在待处理存储中，游标已推进
	a.nodeSyncRound(context.Background(), pending, zap.NewNop())
	entries, err := pending.Pending("v0")
	require.NoError(t, err)
	assert.Len(t, entries, 6)
	cursor, err := followers.Cursor("v0")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cursor)
	assert.Zero(t, state.count())

	// 恢复后下一轮处理遗留摘要
	peer.mu.Lock()
	peer.failFetch = false
	peer.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	h := a.SpawnNodeSync(ctx, pending)
	require.Eventually(t, func() bool { return state.count() == 6 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		entries, err := pending.Pending("v0")
		return err == nil && len(entries) == 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, h.Wait(context.Background()))
}

func TestApplyRejectsMismatchedTransaction(t *testing.T) {
	state := newFakeState("self")
	peer := newFakePeer("p", 1, 1)
	for d, exec := range peer.txs {
		exec.Transaction.Nonce = 1000
		peer.txs[d] = exec
	}
	a := newActive(t, state, storage.NewFollowerStore(openDB(t, "f")), peer)

	err := a.followPeer(context.Background(), "p", modeGossip, nil)
	require.Error(t, err)
	assert.Zero(t, state.count())
}
