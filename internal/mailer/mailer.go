package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"
)

// Mailer sends organiser notifications over SMTP. Credentials come from
// configuration; the sender is constructed once in main and injected.
type Mailer struct {
	host string
	port string
	from string
	pass string
	log  *zerolog.Logger
}

func New(host, port, from, pass string, log *zerolog.Logger) *Mailer {
	return &Mailer{host: host, port: port, from: from, pass: pass, log: log}
}

// SendPlayerJoined tells the organiser that a paid player landed on the
// roster, with the occupancy after the commit.
func (m *Mailer) SendPlayerJoined(organiserEmail, gameTitle, playerName string, spots, reserved, capacity int) error {
	subject := fmt.Sprintf("New player for %s", gameTitle)
	body := fmt.Sprintf(
		"%s just paid and joined %q (%d spot(s)).\n\nRoster: %d/%d spots taken.",
		playerName, gameTitle, spots, reserved, capacity,
	)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.from, organiserEmail, subject, body,
	)

	addr := m.host + ":" + m.port
	auth := smtp.PlainAuth("", m.from, m.pass, m.host)

	if err := smtp.SendMail(addr, auth, m.from, []string{organiserEmail}, []byte(msg)); err != nil {
		m.log.Warn().Err(err).Str("to", organiserEmail).Msg("failed to send organiser notification")
		return fmt.Errorf("send email: %w", err)
	}

	m.log.Info().Str("to", organiserEmail).Str("game", gameTitle).Msg("organiser notification sent")
	return nil
}
