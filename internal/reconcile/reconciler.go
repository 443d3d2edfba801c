package reconcile

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"matchpay/internal/dto"
	"matchpay/internal/model"
	"matchpay/internal/payments"
)

// Ledger is the slice of the repository the reconciler writes through.
type Ledger interface {
	UpsertRosterEntry(ctx context.Context, e *model.RosterEntry) (bool, error)
}

type Publisher interface {
	Publish(message []byte) error
}

// Reconciler converts verified paid checkout sessions into roster entries,
// exactly once per session id. Both confirmation paths (webhook push and the
// player's post-redirect confirm) converge on Apply, so their arrival order
// does not matter.
type Reconciler struct {
	ledger Ledger
	gw     payments.Gateway
	pub    Publisher
	log    *zerolog.Logger
}

func New(ledger Ledger, gw payments.Gateway, pub Publisher, log *zerolog.Logger) *Reconciler {
	return &Reconciler{
		ledger: ledger,
		gw:     gw,
		pub:    pub,
		log:    log,
	}
}

// HandleWebhook authenticates and applies an asynchronous payment event.
// Signature verification happens before any other work; on failure the
// payload is dropped with payments.ErrInvalidSignature and no state changes.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	sess, err := r.gw.VerifyWebhook(payload, sigHeader)
	if err != nil {
		return err
	}
	if sess == nil {
		// verified but irrelevant event type
		return nil
	}

	_, err = r.Apply(ctx, sess)
	return err
}

// ConfirmReturn handles the player's browser coming back from checkout. The
// client-asserted success flag is never trusted: the session is re-fetched
// from the payment processor and only its own paid status counts.
func (r *Reconciler) ConfirmReturn(ctx context.Context, sessionID string) (bool, error) {
	sess, err := r.gw.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return r.Apply(ctx, sess)
}

// Apply commits a roster entry for a paid session. An unpaid or abandoned
// session is a no-op, not an error. The write is a merge-upsert keyed by
// session id, so redelivery and refresh are always safe to re-apply.
// It reports whether an entry was newly committed.
func (r *Reconciler) Apply(ctx context.Context, sess *payments.Session) (bool, error) {
	if sess == nil || !sess.Paid {
		return false, nil
	}

	// Game id and player name come from the session's own metadata, written
	// at session creation. Request parameters are attacker-controllable and
	// are never consulted here.
	gameID := sess.Metadata["gameId"]
	if gameID == "" {
		r.log.Warn().Str("session_id", sess.ID).Msg("paid session without gameId metadata, skipping")
		return false, nil
	}

	name := strings.TrimSpace(sess.Metadata["name"])
	if name == "" {
		name = strings.TrimSpace(sess.CustomerName)
	}
	if name == "" {
		name = "Anonymous"
	}

	spots := 1
	if raw := sess.Metadata["spots"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
			spots = n
		}
	}

	entry := &model.RosterEntry{
		GameID:    gameID,
		SessionID: sess.ID,
		Name:      name,
		Email:     sess.CustomerEmail,
		Spots:     spots,
	}

	created, err := r.ledger.UpsertRosterEntry(ctx, entry)
	if err != nil {
		return false, err
	}

	if !created {
		r.log.Info().
			Str("session_id", sess.ID).
			Str("game_id", gameID).
			Msg("roster entry already committed, replay is a no-op")
		return false, nil
	}

	r.log.Info().
		Str("session_id", sess.ID).
		Str("game_id", gameID).
		Str("name", name).
		Int("spots", spots).
		Msg("roster entry committed")

	r.publishJoined(entry)
	return true, nil
}

// publishJoined notifies the worker about a first-time commit. Notification
// failures must not bounce the confirmation: the entry is already durable.
func (r *Reconciler) publishJoined(e *model.RosterEntry) {
	if r.pub == nil {
		return
	}

	msg := dto.PlayerJoinedMessage{
		GameID:    e.GameID,
		SessionID: e.SessionID,
		Name:      e.Name,
		Spots:     e.Spots,
		PaidAt:    e.PaidAt,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to marshal player.joined message")
		return
	}
	if err := r.pub.Publish(payload); err != nil {
		r.log.Error().Err(err).Msg("failed to publish player.joined message")
	}
}
