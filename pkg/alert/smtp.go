package alert

import (
	"context"

	"gopkg.in/gomail.v2"

	"github.com/nimbus-lab/nimbus/pkg/config"
)

type smtpAlerter struct {
	dialer *gomail.Dialer
	sender string
}

func newSMTPAlerter() alertHandlerInterface {
	conf := config.GetConfig().SMTP
	return &smtpAlerter{
		dialer: gomail.NewDialer(conf.Host, conf.Port, conf.User, conf.Password),
		sender: conf.Sender,
	}
}

func (sa *smtpAlerter) SendMessageTo(_ context.Context, recipients []string, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", sa.sender)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return sa.dialer.DialAndSend(m)
}
