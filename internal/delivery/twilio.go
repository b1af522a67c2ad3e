// Package delivery: Twilio-backed SMS adapter.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/openinbox/inboxd/internal/models"
)

// TwilioAdapter sends messages as SMS through the Twilio REST API.
type TwilioAdapter struct {
	client *twilio.RestClient
	from   string
}

// Compile-time check that TwilioAdapter implements Adapter.
var _ Adapter = (*TwilioAdapter)(nil)

// TwilioOpts holds configuration for the Twilio adapter.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// NewTwilioAdapter creates a Twilio SMS adapter.
func NewTwilioAdapter(cfg TwilioOpts) (*TwilioAdapter, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioAdapter{client: client, from: cfg.FromNumber}, nil
}

// Send delivers the message as an SMS to the conversation's peer number.
func (a *TwilioAdapter) Send(ctx context.Context, conv *models.Conversation, text, objectKey string) (string, error) {
	if conv.PeerRef == "" {
		return "", fmt.Errorf("conversation %s has no peer reference", conv.ID)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(conv.PeerRef)
	params.SetFrom(a.from)
	params.SetBody(text)
	if objectKey != "" {
		params.SetMediaUrl([]string{objectKey})
	}

	resp, err := a.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send sms to %s: %w", conv.PeerRef, err)
	}

	externalID := ""
	if resp.Sid != nil {
		externalID = *resp.Sid
	}
	slog.Debug("TwilioAdapter.Send: message sent", "conversationID", conv.ID, "externalID", externalID)
	return externalID, nil
}
