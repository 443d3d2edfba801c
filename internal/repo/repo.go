package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"matchpay/internal/model"
)

var (
	ErrGameNotFound      = errors.New("game not found")
	ErrOrganiserNotFound = errors.New("organiser not found")
)

type Repository interface {
	UpsertOrganiser(ctx context.Context, o *model.Organiser) error
	GetOrganiserByEmail(ctx context.Context, email string) (*model.Organiser, error)

	CreateGame(ctx context.Context, g *model.Game) error
	GetGameByID(ctx context.Context, id string) (*model.Game, error)
	GetAllGames(ctx context.Context) ([]model.Game, error)

	// UpsertRosterEntry merges an entry by (game_id, session_id) in a single
	// atomic statement. It reports whether the row was newly inserted;
	// joined_at and paid_at are never moved by a replay.
	UpsertRosterEntry(ctx context.Context, e *model.RosterEntry) (bool, error)
	GetRosterByGameID(ctx context.Context, gameID string) ([]model.RosterEntry, error)
	SumSpots(ctx context.Context, gameID string) (int, error)

	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

func (r *repository) UpsertOrganiser(ctx context.Context, o *model.Organiser) error {
	query := `
		INSERT INTO organisers (email, stripe_account_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO UPDATE
		SET stripe_account_id = EXCLUDED.stripe_account_id
	`
	if _, err := r.db.ExecContext(ctx, query, o.Email, o.StripeAccountID); err != nil {
		return fmt.Errorf("failed to upsert organiser: %w", err)
	}
	return nil
}

func (r *repository) GetOrganiserByEmail(ctx context.Context, email string) (*model.Organiser, error) {
	query := `
		SELECT email, stripe_account_id, created_at
		FROM organisers WHERE email = $1
	`
	row := r.db.QueryRowContext(ctx, query, email)

	var o model.Organiser
	if err := row.Scan(&o.Email, &o.StripeAccountID, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrganiserNotFound
		}
		return nil, fmt.Errorf("failed to get organiser: %w", err)
	}
	return &o, nil
}

func (r *repository) CreateGame(ctx context.Context, g *model.Game) error {
	query := `
		INSERT INTO games (id, title, starts_at, location, price, capacity, organiser_email, organiser_account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	row := r.db.QueryRowContext(ctx, query,
		g.ID, g.Title, g.StartsAt, g.Location, g.Price, g.Capacity, g.OrganiserEmail, g.OrganiserAccountID,
	)

	if err := row.Scan(&g.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert game: %w", err)
	}
	return nil
}

func (r *repository) GetGameByID(ctx context.Context, id string) (*model.Game, error) {
	query := `
		SELECT id, title, starts_at, location, price, capacity,
		       organiser_email, organiser_account_id, created_at
		FROM games WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var g model.Game
	if err := row.Scan(
		&g.ID, &g.Title, &g.StartsAt, &g.Location, &g.Price, &g.Capacity,
		&g.OrganiserEmail, &g.OrganiserAccountID, &g.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return &g, nil
}

func (r *repository) GetAllGames(ctx context.Context) ([]model.Game, error) {
	query := `
		SELECT id, title, starts_at, location, price, capacity,
		       organiser_email, organiser_account_id, created_at
		FROM games
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get games: %w", err)
	}
	defer rows.Close()

	var games []model.Game
	for rows.Next() {
		var g model.Game
		if err := rows.Scan(
			&g.ID, &g.Title, &g.StartsAt, &g.Location, &g.Price, &g.Capacity,
			&g.OrganiserEmail, &g.OrganiserAccountID, &g.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, g)
	}

	return games, rows.Err()
}

func (r *repository) UpsertRosterEntry(ctx context.Context, e *model.RosterEntry) (bool, error) {
	// Single-statement merge keyed by (game_id, session_id). A conflicting
	// write refreshes name/email only; spots, joined_at and paid_at keep
	// their first-committed values so replays have no roster-count effect.
	// xmax = 0 distinguishes a fresh insert from a conflict update.
	query := `
		INSERT INTO roster_entries (game_id, session_id, name, email, spots, joined_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (game_id, session_id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email
		RETURNING (xmax = 0), joined_at, paid_at
	`

	var created bool
	row := r.db.QueryRowContext(ctx, query, e.GameID, e.SessionID, e.Name, e.Email, e.Spots)
	if err := row.Scan(&created, &e.JoinedAt, &e.PaidAt); err != nil {
		return false, fmt.Errorf("failed to upsert roster entry: %w", err)
	}
	return created, nil
}

func (r *repository) GetRosterByGameID(ctx context.Context, gameID string) ([]model.RosterEntry, error) {
	query := `
		SELECT game_id, session_id, name, email, spots, joined_at, paid_at
		FROM roster_entries
		WHERE game_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get roster: %w", err)
	}
	defer rows.Close()

	var entries []model.RosterEntry
	for rows.Next() {
		var e model.RosterEntry
		if err := rows.Scan(
			&e.GameID, &e.SessionID, &e.Name, &e.Email, &e.Spots, &e.JoinedAt, &e.PaidAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan roster entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (r *repository) SumSpots(ctx context.Context, gameID string) (int, error) {
	query := `
		SELECT COALESCE(SUM(spots), 0)
		FROM roster_entries
		WHERE game_id = $1
	`

	var reserved int
	if err := r.db.QueryRowContext(ctx, query, gameID).Scan(&reserved); err != nil {
		return 0, fmt.Errorf("failed to sum reserved spots: %w", err)
	}
	return reserved, nil
}
