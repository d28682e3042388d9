package twilio

import (
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Client wraps Twilio SMS operations required by the reminder pipeline.
type Client struct {
	client     *twilio.RestClient
	fromNumber string
}

// New creates a Twilio client bound to the configured sender number.
func New(accountSID, authToken, fromNumber string) *Client {
	return &Client{
		client:     twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		fromNumber: fromNumber,
	}
}

// SendSMS sends a text message via Twilio's API and returns the message SID.
func (c *Client) SendSMS(to, body string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("twilio client not initialised")
	}

	sender := strings.TrimSpace(c.fromNumber)
	if sender == "" {
		return "", fmt.Errorf("twilio sender number is not configured")
	}

	recipient := strings.TrimSpace(to)
	if recipient == "" {
		return "", fmt.Errorf("recipient number missing or invalid")
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(sender)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio send message error: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("twilio send message: no SID returned")
	}
	return *resp.Sid, nil
}
