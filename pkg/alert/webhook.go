package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"
)

// webhookAlerter posts messages to an internal relay endpoint instead of
// talking to an SMTP server directly.
type webhookAlerter struct {
	client *req.Client
	url    string
}

func newWebhookAlerter(url string) alertHandlerInterface {
	return &webhookAlerter{
		client: req.C().SetTimeout(10 * time.Second),
		url:    url,
	}
}

type webhookMessage struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

func (wa *webhookAlerter) SendMessageTo(ctx context.Context, recipients []string, subject, body string) error {
	resp, err := wa.client.R().SetContext(ctx).
		SetBody(&webhookMessage{Recipients: recipients, Subject: subject, Body: body}).
		Post(wa.url)
	if err != nil {
		return err
	}
	if resp.IsErrorState() {
		return fmt.Errorf("webhook relay returned %s", resp.Status)
	}
	return nil
}
