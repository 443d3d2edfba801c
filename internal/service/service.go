package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"matchpay/internal/dto"
	"matchpay/internal/model"
	"matchpay/internal/payments"
	"matchpay/internal/reconcile"
	"matchpay/internal/repo"
	"matchpay/pkg/money"
	"matchpay/pkg/validator"
)

// upstreamTimeout bounds every payment-processor call; a timeout is treated
// as retriable, never as evidence the payment failed.
const upstreamTimeout = 15 * time.Second

type Service interface {
	CreateGame(ctx *ginext.Context)
	GetGame(ctx *ginext.Context)
	GetAllGames(ctx *ginext.Context)
	Join(ctx *ginext.Context)
	Confirm(ctx *ginext.Context)
	Webhook(ctx *ginext.Context)
	ConnectOrganiser(ctx *ginext.Context)
	OrganiserStatus(ctx *ginext.Context)
	RefreshOnboardingLink(ctx *ginext.Context)
}

type service struct {
	repo       repo.Repository
	gateway    payments.Gateway
	reconciler *reconcile.Reconciler
	log        *zerolog.Logger
	siteURL    string
	currency   string
}

func NewService(repository repo.Repository, gateway payments.Gateway, reconciler *reconcile.Reconciler, logger *zerolog.Logger, siteURL, currency string) Service {
	return &service{
		repo:       repository,
		gateway:    gateway,
		reconciler: reconciler,
		log:        logger,
		siteURL:    strings.TrimRight(siteURL, "/"),
		currency:   currency,
	}
}

func (s *service) CreateGame(ctx *ginext.Context) {
	var req dto.CreateGameRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create game request")
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.OrganiserEmail))

	// The payout destination is resolved once here and snapshotted onto the
	// game, so later changes to the organiser's account never redirect the
	// funds of a live game.
	organiser, err := s.repo.GetOrganiserByEmail(ctx.Request.Context(), email)
	if err != nil {
		if errors.Is(err, repo.ErrOrganiserNotFound) {
			dto.BadResponseError(ctx, dto.OrganiserNotOnboard, "Organiser not found or not connected to Stripe")
			return
		}
		s.log.Error().Err(err).Msg("failed to load organiser")
		dto.InternalServerError(ctx)
		return
	}
	if organiser.StripeAccountID == "" {
		dto.BadResponseError(ctx, dto.OrganiserNotOnboard, "Organiser has no payment account connected")
		return
	}

	game := &model.Game{
		ID:                 uuid.NewString(),
		Title:              req.Title,
		StartsAt:           req.Date,
		Location:           req.Location,
		Price:              req.Price,
		Capacity:           req.Capacity,
		OrganiserEmail:     email,
		OrganiserAccountID: organiser.StripeAccountID,
	}

	if err := s.repo.CreateGame(ctx.Request.Context(), game); err != nil {
		s.log.Error().Err(err).Msg("failed to create game in DB")
		dto.InternalServerError(ctx)
		return
	}

	s.log.Info().Str("game_id", game.ID).Str("organiser", email).Msg("game created successfully")

	dto.SuccessCreatedResponse(ctx, dto.CreateGameResponse{
		GameID:   game.ID,
		ShareURL: s.siteURL + "/play/" + game.ID,
	})
}

func (s *service) Join(ctx *ginext.Context) {
	var req dto.JoinRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	spots := req.Spots
	if spots == 0 {
		spots = 1
	}

	game, err := s.repo.GetGameByID(ctx.Request.Context(), req.GameID)
	if err != nil {
		if errors.Is(err, repo.ErrGameNotFound) {
			dto.GameNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to load game for join")
		dto.InternalServerError(ctx)
		return
	}

	upstreamCtx, cancel := context.WithTimeout(ctx.Request.Context(), upstreamTimeout)
	defer cancel()

	status, err := s.gateway.GetAccountStatus(upstreamCtx, game.OrganiserAccountID)
	if err != nil {
		s.log.Error().Err(err).Str("account_id", game.OrganiserAccountID).Msg("failed to check account status")
		dto.UpstreamError(ctx)
		return
	}

	if !status.ChargesEnabled || !status.PayoutsEnabled {
		// Recoverable: hand back a remediation link instead of a bare error.
		link, linkErr := s.gateway.OnboardingLink(upstreamCtx, game.OrganiserAccountID)
		if linkErr != nil {
			s.log.Error().Err(linkErr).Msg("failed to create onboarding link")
		}
		dto.ConflictError(ctx, dto.OrganiserNotOnboard,
			"Organiser is not payment-enabled yet",
			dto.OnboardingResponse{OnboardingURL: link})
		return
	}

	// Soft gate only: a session created here can still race another join for
	// the last spot. The ledger tolerates the resulting bounded overshoot.
	reserved, err := s.repo.SumSpots(ctx.Request.Context(), game.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read occupancy for join")
		dto.InternalServerError(ctx)
		return
	}
	occ := model.Occupancy{Reserved: reserved, Capacity: game.Capacity}
	if occ.Full() {
		dto.ConflictError(ctx, dto.GameSoldOut, "Game is sold out", occ)
		return
	}

	redirectURL, sessionID, err := s.gateway.CreateCheckoutSession(upstreamCtx, payments.CheckoutParams{
		GameID:             game.ID,
		GameTitle:          game.Title,
		PlayerName:         req.Name,
		Spots:              spots,
		UnitAmount:         money.ToMinorUnits(game.Price),
		Currency:           s.currency,
		DestinationAccount: game.OrganiserAccountID,
		SuccessURL:         s.siteURL + "/play/" + game.ID + "?success=1&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:          s.siteURL + "/play/" + game.ID + "?canceled=1",
		IdempotencyKey:     fmt.Sprintf("pay:%s:%s", game.ID, req.Name),
	})
	if err != nil {
		s.log.Error().Err(err).Str("game_id", game.ID).Msg("failed to create checkout session")
		dto.UpstreamError(ctx)
		return
	}

	s.log.Info().
		Str("game_id", game.ID).
		Str("session_id", sessionID).
		Str("name", req.Name).
		Int("spots", spots).
		Msg("checkout session created")

	dto.SuccessResponse(ctx, dto.JoinResponse{RedirectURL: redirectURL})
}

func (s *service) Confirm(ctx *ginext.Context) {
	var req dto.ConfirmRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	upstreamCtx, cancel := context.WithTimeout(ctx.Request.Context(), upstreamTimeout)
	defer cancel()

	// The reconciler re-verifies the session against the payment processor;
	// the redirect's success flag never creates an entry by itself. Repeat
	// calls are no-ops against the same session id.
	if _, err := s.reconciler.ConfirmReturn(upstreamCtx, req.SessionID); err != nil {
		s.log.Error().Err(err).Str("session_id", req.SessionID).Msg("failed to confirm session")
		dto.UpstreamError(ctx)
		return
	}

	dto.SuccessResponse(ctx, dto.ConfirmResponse{OK: true})
}

func (s *service) Webhook(ctx *ginext.Context) {
	payload, err := ctx.GetRawData()
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Unable to read request body")
		return
	}
	sigHeader := ctx.GetHeader("Stripe-Signature")

	err = s.reconciler.HandleWebhook(ctx.Request.Context(), payload, sigHeader)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			s.log.Warn().Err(err).Msg("dropping webhook with invalid signature")
			dto.BadResponseError(ctx, dto.InvalidSignature, "Webhook signature verification failed")
			return
		}
		// Transient failure: a non-2xx makes the processor redeliver, and the
		// idempotent upsert makes the retry safe.
		s.log.Error().Err(err).Msg("failed to reconcile webhook event")
		dto.InternalServerError(ctx)
		return
	}

	dto.SuccessResponse(ctx, map[string]bool{"received": true})
}

func (s *service) GetGame(ctx *ginext.Context) {
	gameID := ctx.Param("id")

	game, err := s.repo.GetGameByID(ctx.Request.Context(), gameID)
	if err != nil {
		if errors.Is(err, repo.ErrGameNotFound) {
			dto.GameNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to load game")
		dto.InternalServerError(ctx)
		return
	}

	resp, err := s.gameInfo(ctx.Request.Context(), game, ctx.Query("admin") == "true")
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build game info")
		dto.InternalServerError(ctx)
		return
	}

	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetAllGames(ctx *ginext.Context) {
	games, err := s.repo.GetAllGames(ctx.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list games")
		dto.InternalServerError(ctx)
		return
	}

	resp := make([]dto.GameInfoResponse, 0, len(games))
	for i := range games {
		item, err := s.gameInfo(ctx.Request.Context(), &games[i], false)
		if err != nil {
			s.log.Error().Err(err).Str("game_id", games[i].ID).Msg("failed to build game info, skipping")
			continue
		}
		resp = append(resp, *item)
	}

	dto.SuccessResponse(ctx, resp)
}

// gameInfo assembles a game with its live occupancy, recomputed from the
// ledger on every call so it reflects just-reconciled entries.
func (s *service) gameInfo(ctx context.Context, game *model.Game, includeRoster bool) (*dto.GameInfoResponse, error) {
	reserved, err := s.repo.SumSpots(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	occ := model.Occupancy{Reserved: reserved, Capacity: game.Capacity}

	resp := &dto.GameInfoResponse{
		ID:        game.ID,
		Title:     game.Title,
		StartsAt:  game.StartsAt,
		Location:  game.Location,
		Price:     game.Price,
		Capacity:  occ.Capacity,
		Reserved:  occ.Reserved,
		Available: occ.Available(),
		CreatedAt: game.CreatedAt,
	}

	if includeRoster {
		entries, err := s.repo.GetRosterByGameID(ctx, game.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			resp.Roster = append(resp.Roster, dto.RosterEntryResponse{
				SessionID: e.SessionID,
				Name:      e.Name,
				Spots:     e.Spots,
				JoinedAt:  e.JoinedAt,
				PaidAt:    e.PaidAt,
			})
		}
	}

	return resp, nil
}

func (s *service) ConnectOrganiser(ctx *ginext.Context) {
	var req dto.ConnectOrganiserRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	upstreamCtx, cancel := context.WithTimeout(ctx.Request.Context(), upstreamTimeout)
	defer cancel()

	var accountID string
	organiser, err := s.repo.GetOrganiserByEmail(ctx.Request.Context(), email)
	switch {
	case err == nil:
		accountID = organiser.StripeAccountID
	case errors.Is(err, repo.ErrOrganiserNotFound):
		// first contact: create the connected account, then remember it
	default:
		s.log.Error().Err(err).Msg("failed to load organiser")
		dto.InternalServerError(ctx)
		return
	}

	if accountID == "" {
		accountID, err = s.gateway.CreateAccount(upstreamCtx, email)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to create connected account")
			dto.UpstreamError(ctx)
			return
		}
		if err := s.repo.UpsertOrganiser(ctx.Request.Context(), &model.Organiser{
			Email:           email,
			StripeAccountID: accountID,
		}); err != nil {
			s.log.Error().Err(err).Msg("failed to store organiser account")
			dto.InternalServerError(ctx)
			return
		}
	}

	link, err := s.gateway.OnboardingLink(upstreamCtx, accountID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create onboarding link")
		dto.UpstreamError(ctx)
		return
	}

	status, err := s.gateway.GetAccountStatus(upstreamCtx, accountID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to check account status")
		dto.UpstreamError(ctx)
		return
	}

	dto.SuccessResponse(ctx, dto.ConnectOrganiserResponse{
		AccountID:     accountID,
		OnboardingURL: link,
		Status:        accountStatusResponse(status),
	})
}

func (s *service) OrganiserStatus(ctx *ginext.Context) {
	email := strings.ToLower(strings.TrimSpace(ctx.Param("email")))

	organiser, err := s.repo.GetOrganiserByEmail(ctx.Request.Context(), email)
	if err != nil {
		if errors.Is(err, repo.ErrOrganiserNotFound) {
			dto.OrganiserNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to load organiser")
		dto.InternalServerError(ctx)
		return
	}

	upstreamCtx, cancel := context.WithTimeout(ctx.Request.Context(), upstreamTimeout)
	defer cancel()

	status, err := s.gateway.GetAccountStatus(upstreamCtx, organiser.StripeAccountID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to check account status")
		dto.UpstreamError(ctx)
		return
	}

	dto.SuccessResponse(ctx, accountStatusResponse(status))
}

func (s *service) RefreshOnboardingLink(ctx *ginext.Context) {
	var req dto.ConnectOrganiserRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	organiser, err := s.repo.GetOrganiserByEmail(ctx.Request.Context(), email)
	if err != nil {
		if errors.Is(err, repo.ErrOrganiserNotFound) {
			dto.OrganiserNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to load organiser")
		dto.InternalServerError(ctx)
		return
	}

	upstreamCtx, cancel := context.WithTimeout(ctx.Request.Context(), upstreamTimeout)
	defer cancel()

	link, err := s.gateway.OnboardingLink(upstreamCtx, organiser.StripeAccountID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to refresh onboarding link")
		dto.UpstreamError(ctx)
		return
	}

	dto.SuccessResponse(ctx, dto.OnboardingResponse{OnboardingURL: link})
}

func accountStatusResponse(st *payments.AccountStatus) dto.AccountStatusResponse {
	return dto.AccountStatusResponse{
		AccountID:      st.AccountID,
		ChargesEnabled: st.ChargesEnabled,
		PayoutsEnabled: st.PayoutsEnabled,
		CurrentlyDue:   st.CurrentlyDue,
		DisabledReason: st.DisabledReason,
	}
}
