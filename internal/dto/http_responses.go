package dto

import (
	"time"

	"github.com/wb-go/wbf/ginext"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	GameNotFound         = "GAME_NOT_FOUND"
	OrganiserNotFound    = "ORGANISER_NOT_FOUND"
	OrganiserNotOnboard  = "ORGANISER_NOT_ONBOARDED"
	GameSoldOut          = "GAME_SOLD_OUT"
	SessionNotFound      = "SESSION_NOT_FOUND"
	InvalidSignature     = "INVALID_SIGNATURE"
	UpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	UpstreamErrorMessage = "Payment provider is unavailable. Please try again."
)

type CreateGameRequest struct {
	Title          string    `json:"title" validate:"required,max=255"`
	Date           time.Time `json:"date" validate:"required,future"`
	Location       string    `json:"location"`
	Price          float64   `json:"price" validate:"required,gt=0"`
	Capacity       int       `json:"capacity" validate:"required,positive"`
	OrganiserEmail string    `json:"organiser_email" validate:"required,email"`
}

type CreateGameResponse struct {
	GameID   string `json:"game_id"`
	ShareURL string `json:"share_url"`
}

type JoinRequest struct {
	GameID string `json:"game_id" validate:"required"`
	Name   string `json:"name" validate:"required,min=1,max=255"`
	Spots  int    `json:"spots" validate:"omitempty,gte=1,lte=10"`
}

type JoinResponse struct {
	RedirectURL string `json:"redirect_url"`
}

type OnboardingResponse struct {
	OnboardingURL string `json:"onboarding_url"`
}

type ConfirmRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	GameID    string `json:"game_id" validate:"required"`
}

type ConfirmResponse struct {
	OK bool `json:"ok"`
}

type ConnectOrganiserRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ConnectOrganiserResponse struct {
	AccountID     string                `json:"account_id"`
	OnboardingURL string                `json:"onboarding_url"`
	Status        AccountStatusResponse `json:"status"`
}

type AccountStatusResponse struct {
	AccountID      string   `json:"account_id"`
	ChargesEnabled bool     `json:"charges_enabled"`
	PayoutsEnabled bool     `json:"payouts_enabled"`
	CurrentlyDue   []string `json:"currently_due,omitempty"`
	DisabledReason string   `json:"disabled_reason,omitempty"`
}

type RosterEntryResponse struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Spots     int       `json:"spots"`
	JoinedAt  time.Time `json:"joined_at"`
	PaidAt    time.Time `json:"paid_at"`
}

type GameInfoResponse struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	StartsAt  time.Time             `json:"starts_at"`
	Location  string                `json:"location,omitempty"`
	Price     float64               `json:"price"`
	Capacity  int                   `json:"capacity"`
	Reserved  int                   `json:"reserved"`
	Available int                   `json:"available"`
	CreatedAt time.Time             `json:"created_at"`
	Roster    []RosterEntryResponse `json:"roster,omitempty"`
}

// PlayerJoinedMessage is published to RabbitMQ when a roster entry is first
// committed, and consumed by the notification worker.
type PlayerJoinedMessage struct {
	GameID    string    `json:"game_id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Spots     int       `json:"spots"`
	PaidAt    time.Time `json:"paid_at"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func NotFoundError(c *ginext.Context, code, desc string) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func ConflictError(c *ginext.Context, code, desc string, data any) {
	c.JSON(409, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
		Data: data,
	})
}

func UpstreamError(c *ginext.Context) {
	c.JSON(502, Response{
		Status: "error",
		Error: &Error{
			Code: UpstreamUnavailable,
			Desc: UpstreamErrorMessage,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func GameNotFoundError(c *ginext.Context) {
	NotFoundError(c, GameNotFound, "Game not found")
}

func OrganiserNotFoundError(c *ginext.Context) {
	NotFoundError(c, OrganiserNotFound, "Organiser not found")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
