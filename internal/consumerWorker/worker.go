package consumerWorker

import (
	"context"
	"encoding/json"

	"github.com/wb-go/wbf/zlog"

	"matchpay/internal/dto"
	"matchpay/internal/mailer"
	"matchpay/internal/rabbit"
	"matchpay/internal/repo"
)

// Reader drains player.joined events and notifies the game's organiser.
// Notification delivery is best-effort: the roster entry is already durable
// by the time the message is published, so a mail failure never affects it.
type Reader struct {
	RMQ    *rabbit.Client
	repo   repo.Repository
	mail   *mailer.Mailer
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq *rabbit.Client, repository repo.Repository, mail *mailer.Mailer) *Reader {
	return &Reader{
		RMQ:  rmq,
		repo: repository,
		mail: mail,
		done: make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("notification worker started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			var msg dto.PlayerJoinedMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				zlog.Logger.Error().
					Err(err).
					Msgf("failed to unmarshal message: %s", string(body))
				return err
			}

			zlog.Logger.Info().
				Str("game_id", msg.GameID).
				Str("session_id", msg.SessionID).
				Msg("received player.joined message")

			game, err := r.repo.GetGameByID(cctx, msg.GameID)
			if err != nil {
				// Nothing to notify about; do not requeue a broken reference.
				zlog.Logger.Error().
					Err(err).
					Str("game_id", msg.GameID).
					Msg("failed to load game for notification")
				return nil
			}

			reserved, err := r.repo.SumSpots(cctx, msg.GameID)
			if err != nil {
				zlog.Logger.Error().
					Err(err).
					Str("game_id", msg.GameID).
					Msg("failed to recompute occupancy for notification")
				return nil
			}

			if err := r.mail.SendPlayerJoined(
				game.OrganiserEmail,
				game.Title,
				msg.Name,
				msg.Spots,
				reserved,
				game.Capacity,
			); err != nil {
				zlog.Logger.Warn().
					Err(err).
					Str("game_id", msg.GameID).
					Msg("failed to send organiser notification")
			}

			return nil
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("notification worker stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
