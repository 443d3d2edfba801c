package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchpay/internal/model"
	"matchpay/internal/payments"
)

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]model.RosterEntry // keyed by gameID+"/"+sessionID
	failing bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]model.RosterEntry)}
}

func (l *fakeLedger) UpsertRosterEntry(_ context.Context, e *model.RosterEntry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failing {
		return false, errors.New("store unavailable")
	}

	key := e.GameID + "/" + e.SessionID
	if existing, ok := l.entries[key]; ok {
		existing.Name = e.Name
		existing.Email = e.Email
		l.entries[key] = existing
		e.JoinedAt = existing.JoinedAt
		e.PaidAt = existing.PaidAt
		return false, nil
	}

	e.JoinedAt = time.Now()
	e.PaidAt = e.JoinedAt
	l.entries[key] = *e
	return true, nil
}

func (l *fakeLedger) sumSpots(gameID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, e := range l.entries {
		if e.GameID == gameID {
			total += e.Spots
		}
	}
	return total
}

// fakeGateway resolves sessions by id for ConfirmReturn and by raw payload
// for HandleWebhook. Any signature other than "valid" is rejected.
type fakeGateway struct {
	sessions map[string]*payments.Session
}

func (g *fakeGateway) CreateCheckoutSession(context.Context, payments.CheckoutParams) (string, string, error) {
	return "", "", errors.New("not used")
}

func (g *fakeGateway) GetSession(_ context.Context, sessionID string) (*payments.Session, error) {
	sess, ok := g.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such session")
	}
	return sess, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, sigHeader string) (*payments.Session, error) {
	if sigHeader != "valid" {
		return nil, fmt.Errorf("%w: bad header", payments.ErrInvalidSignature)
	}
	return g.sessions[string(payload)], nil
}

func (g *fakeGateway) CreateAccount(context.Context, string) (string, error) {
	return "", errors.New("not used")
}

func (g *fakeGateway) GetAccountStatus(context.Context, string) (*payments.AccountStatus, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) OnboardingLink(context.Context, string) (string, error) {
	return "", errors.New("not used")
}

type fakePublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

func (p *fakePublisher) Publish(message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func paidSession(id, gameID, name string) *payments.Session {
	return &payments.Session{
		ID:   id,
		Paid: true,
		Metadata: map[string]string{
			"gameId": gameID,
			"name":   name,
			"spots":  "1",
		},
	}
}

func newTestReconciler(gw *fakeGateway) (*Reconciler, *fakeLedger, *fakePublisher) {
	ledger := newFakeLedger()
	pub := &fakePublisher{}
	log := zerolog.Nop()
	return New(ledger, gw, pub, &log), ledger, pub
}

func TestHandleWebhook_RedeliveryIsIdempotent(t *testing.T) {
	sess := paidSession("cs_1", "game-1", "Alice")
	gw := &fakeGateway{sessions: map[string]*payments.Session{"cs_1": sess}}
	r, ledger, pub := newTestReconciler(gw)

	for i := 0; i < 5; i++ {
		err := r.HandleWebhook(context.Background(), []byte("cs_1"), "valid")
		require.NoError(t, err)
	}

	assert.Len(t, ledger.entries, 1, "redelivery must not create duplicates")
	assert.Equal(t, 1, ledger.sumSpots("game-1"))
	assert.Equal(t, 1, pub.count(), "player.joined must be published once")
}

func TestHandleWebhook_InvalidSignatureHasNoSideEffect(t *testing.T) {
	sess := paidSession("cs_1", "game-1", "Alice")
	gw := &fakeGateway{sessions: map[string]*payments.Session{"cs_1": sess}}
	r, ledger, pub := newTestReconciler(gw)

	err := r.HandleWebhook(context.Background(), []byte("cs_1"), "forged")
	require.ErrorIs(t, err, payments.ErrInvalidSignature)
	assert.Empty(t, ledger.entries)
	assert.Zero(t, pub.count())
}

func TestHandleWebhook_IrrelevantEventIsIgnored(t *testing.T) {
	gw := &fakeGateway{sessions: map[string]*payments.Session{}}
	r, ledger, _ := newTestReconciler(gw)

	// verified event with no completed session attached
	err := r.HandleWebhook(context.Background(), []byte("cs_unknown"), "valid")
	require.NoError(t, err)
	assert.Empty(t, ledger.entries)
}

func TestConfirmReturn_UnpaidSessionNeverJoins(t *testing.T) {
	sess := paidSession("cs_1", "game-1", "Alice")
	sess.Paid = false
	gw := &fakeGateway{sessions: map[string]*payments.Session{"cs_1": sess}}
	r, ledger, pub := newTestReconciler(gw)

	// A crafted ?success=1 return maps to exactly this call: the session is
	// re-checked against the processor and its unpaid status wins.
	created, err := r.ConfirmReturn(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, ledger.entries)
	assert.Zero(t, pub.count())
}

func TestConfirmReturn_AfterWebhookIsNoOp(t *testing.T) {
	sess := paidSession("cs_1", "game-1", "Alice")
	gw := &fakeGateway{sessions: map[string]*payments.Session{"cs_1": sess}}
	r, ledger, pub := newTestReconciler(gw)

	require.NoError(t, r.HandleWebhook(context.Background(), []byte("cs_1"), "valid"))

	created, err := r.ConfirmReturn(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.False(t, created, "entry already committed by the webhook")
	assert.Len(t, ledger.entries, 1)
	assert.Equal(t, 1, pub.count())
}

func TestConfirmReturn_BeforeWebhookConverges(t *testing.T) {
	sess := paidSession("cs_1", "game-1", "Alice")
	gw := &fakeGateway{sessions: map[string]*payments.Session{"cs_1": sess}}
	r, ledger, _ := newTestReconciler(gw)

	created, err := r.ConfirmReturn(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, r.HandleWebhook(context.Background(), []byte("cs_1"), "valid"))
	assert.Len(t, ledger.entries, 1, "both orders of arrival end in the same state")
}

func TestApply_ConcurrentLastSpotOvershootIsAccepted(t *testing.T) {
	// Capacity 1, two distinct paid sessions: both commit, the ledger reads
	// 2/1. The race is accepted and bounded, not rejected.
	s1 := paidSession("cs_a", "game-1", "Alice")
	s2 := paidSession("cs_b", "game-1", "Bob")
	gw := &fakeGateway{sessions: map[string]*payments.Session{"cs_a": s1, "cs_b": s2}}
	r, ledger, _ := newTestReconciler(gw)

	var wg sync.WaitGroup
	for _, sess := range []*payments.Session{s1, s2} {
		wg.Add(1)
		go func(s *payments.Session) {
			defer wg.Done()
			_, err := r.Apply(context.Background(), s)
			assert.NoError(t, err)
		}(sess)
	}
	wg.Wait()

	assert.Len(t, ledger.entries, 2)
	assert.Equal(t, 2, ledger.sumSpots("game-1"), "occupancy documents the overshoot")
}

func TestApply_MetadataIsTheOnlyIdentitySource(t *testing.T) {
	r, ledger, _ := newTestReconciler(&fakeGateway{})

	t.Run("missing gameId skips quietly", func(t *testing.T) {
		sess := &payments.Session{ID: "cs_x", Paid: true, Metadata: map[string]string{"name": "Mallory"}}
		created, err := r.Apply(context.Background(), sess)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Empty(t, ledger.entries)
	})

	t.Run("name falls back to customer details then Anonymous", func(t *testing.T) {
		sess := &payments.Session{
			ID:           "cs_y",
			Paid:         true,
			Metadata:     map[string]string{"gameId": "game-1"},
			CustomerName: "Carol",
		}
		created, err := r.Apply(context.Background(), sess)
		require.NoError(t, err)
		require.True(t, created)
		assert.Equal(t, "Carol", ledger.entries["game-1/cs_y"].Name)

		sess2 := &payments.Session{ID: "cs_z", Paid: true, Metadata: map[string]string{"gameId": "game-1"}}
		_, err = r.Apply(context.Background(), sess2)
		require.NoError(t, err)
		assert.Equal(t, "Anonymous", ledger.entries["game-1/cs_z"].Name)
	})

	t.Run("bogus spots metadata defaults to one", func(t *testing.T) {
		sess := &payments.Session{
			ID:       "cs_s",
			Paid:     true,
			Metadata: map[string]string{"gameId": "game-2", "name": "Dan", "spots": "-3"},
		}
		created, err := r.Apply(context.Background(), sess)
		require.NoError(t, err)
		require.True(t, created)
		assert.Equal(t, 1, ledger.entries["game-2/cs_s"].Spots)
	})
}

func TestApply_StoreFailureLeavesNoPartialState(t *testing.T) {
	sess := paidSession("cs_1", "game-1", "Alice")
	gw := &fakeGateway{sessions: map[string]*payments.Session{"cs_1": sess}}
	r, ledger, pub := newTestReconciler(gw)
	ledger.failing = true

	_, err := r.Apply(context.Background(), sess)
	require.Error(t, err)
	assert.Zero(t, pub.count(), "nothing is announced for an uncommitted entry")

	// The delivery mechanism retries; once the store recovers the same
	// session commits exactly once.
	ledger.failing = false
	created, err := r.Apply(context.Background(), sess)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, ledger.entries, 1)
}
