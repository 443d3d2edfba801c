package model

import "time"

type Organiser struct {
	Email           string    `db:"email" json:"email"`
	StripeAccountID string    `db:"stripe_account_id" json:"stripe_account_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Game terms are fixed at creation: price, capacity and the payout
// destination snapshot never change once players can join.
type Game struct {
	ID                 string    `db:"id" json:"id"`
	Title              string    `db:"title" json:"title"`
	StartsAt           time.Time `db:"starts_at" json:"starts_at"`
	Location           string    `db:"location,omitempty" json:"location,omitempty"`
	Price              float64   `db:"price" json:"price"`
	Capacity           int       `db:"capacity" json:"capacity"`
	OrganiserEmail     string    `db:"organiser_email" json:"organiser_email"`
	OrganiserAccountID string    `db:"organiser_account_id" json:"organiser_account_id"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// RosterEntry is keyed by (GameID, SessionID): the checkout session id is the
// idempotency key, so a redelivered confirmation merges into the same row.
type RosterEntry struct {
	GameID    string    `db:"game_id" json:"game_id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email,omitempty" json:"email,omitempty"`
	Spots     int       `db:"spots" json:"spots"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
	PaidAt    time.Time `db:"paid_at" json:"paid_at"`
}

// Occupancy is the derived view over a game's roster. Reserved is always
// recomputed as SUM(spots) over committed entries, never kept as a counter.
type Occupancy struct {
	Reserved int `json:"reserved"`
	Capacity int `json:"capacity"`
}

func (o Occupancy) Available() int {
	if o.Capacity > o.Reserved {
		return o.Capacity - o.Reserved
	}
	return 0
}

func (o Occupancy) Full() bool {
	return o.Reserved >= o.Capacity
}
