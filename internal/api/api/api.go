package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"matchpay/cmd/middleware"
	"matchpay/internal/service"
)

type Routers struct {
	Service service.Service
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())
	apiGroup := app.Group("/v1")

	apiGroup.POST("/games", r.Service.CreateGame)
	apiGroup.GET("/games", r.Service.GetAllGames)
	apiGroup.GET("/games/:id", r.Service.GetGame)

	apiGroup.POST("/join", r.Service.Join)
	apiGroup.POST("/confirm", r.Service.Confirm)
	apiGroup.POST("/webhook", r.Service.Webhook)

	apiGroup.POST("/organisers/connect", r.Service.ConnectOrganiser)
	apiGroup.POST("/organisers/refresh-link", r.Service.RefreshOnboardingLink)
	apiGroup.GET("/organisers/:email/status", r.Service.OrganiserStatus)

	return app
}
