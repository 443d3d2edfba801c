package buildCFG

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
)

type ServerConfig struct {
	Port string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type AppConfig struct {
	SiteURL  string
	Currency string
}

type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Password string
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, defaulting to 8080")
	}
	return ServerConfig{Port: port}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	masterDSN := cfg.GetString("db.master_dsn")
	if masterDSN == "" {
		return "", nil, nil, fmt.Errorf("db.master_dsn is required")
	}

	opts := &dbpg.Options{
		MaxOpenConns: cfg.GetInt("db.max_open_conns"),
		MaxIdleConns: cfg.GetInt("db.max_idle_conns"),
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 5
	}

	log.Info().Int("max_open_conns", opts.MaxOpenConns).Msg("DB config built")
	return masterDSN, nil, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
	}
	if rc.Url == "" {
		return rc, fmt.Errorf("rabbit.url is required")
	}
	if rc.Exchange == "" {
		rc.Exchange = "matchpay.events"
	}
	if rc.Queue == "" {
		rc.Queue = "matchpay.notifications"
	}
	return rc, nil
}

func BuildStripeConfig(cfg *config.Config, log *zerolog.Logger) (StripeConfig, error) {
	sc := StripeConfig{
		SecretKey:     cfg.GetString("stripe.secret_key"),
		WebhookSecret: cfg.GetString("stripe.webhook_secret"),
	}
	if sc.SecretKey == "" {
		return sc, fmt.Errorf("stripe.secret_key is required")
	}
	if sc.WebhookSecret == "" {
		log.Warn().Msg("stripe.webhook_secret not set, webhook verification will reject all events")
	}
	return sc, nil
}

func BuildAppConfig(cfg *config.Config, log *zerolog.Logger) AppConfig {
	ac := AppConfig{
		SiteURL:  cfg.GetString("app.site_url"),
		Currency: cfg.GetString("app.currency"),
	}
	if ac.SiteURL == "" {
		ac.SiteURL = "http://localhost:3000"
		log.Warn().Msg("app.site_url not set, defaulting to http://localhost:3000")
	}
	if ac.Currency == "" {
		ac.Currency = "gbp"
	}
	return ac
}

func BuildSMTPConfig(cfg *config.Config, log *zerolog.Logger) SMTPConfig {
	mc := SMTPConfig{
		Host:     cfg.GetString("smtp.host"),
		Port:     cfg.GetString("smtp.port"),
		From:     cfg.GetString("smtp.from"),
		Password: cfg.GetString("smtp.password"),
	}
	if mc.Host == "" {
		log.Warn().Msg("smtp.host not set, organiser notifications will fail")
	}
	if mc.Port == "" {
		mc.Port = "587"
	}
	return mc
}
