package twilio

import (
	"errors"
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when credentials or the sender number are missing.
var ErrNotConfigured = errors.New("twilio client not configured")

// Client sends WhatsApp messages through Twilio.
type Client struct {
	client       *twilio.RestClient
	fromWhatsApp string
	logger       *zap.Logger
}

// New creates a Twilio client bound to the configured WhatsApp sender number. Without
// credentials the client is returned disabled and every send fails with ErrNotConfigured.
func New(accountSID, authToken, fromWhatsApp string, logger *zap.Logger) *Client {
	c := &Client{fromWhatsApp: fromWhatsApp, logger: logger}
	if accountSID != "" && authToken != "" {
		c.client = twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	}
	return c
}

// Enabled reports whether messages can be sent.
func (c *Client) Enabled() bool {
	return c.client != nil && NormalizeWhatsAppAddress(c.fromWhatsApp) != ""
}

// SendWhatsAppMessage sends body to the recipient number.
func (c *Client) SendWhatsAppMessage(to, body string) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}

	recipient := NormalizeWhatsAppAddress(to)
	if recipient == "" {
		return fmt.Errorf("recipient number missing or invalid")
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(NormalizeWhatsAppAddress(c.fromWhatsApp))
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send message: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	c.logger.Debug("twilio: message sent", zap.String("to", recipient), zap.String("sid", sid))
	return nil
}

// NormalizeWhatsAppAddress turns "+15551234567", "15551234567" or "whatsapp:+1555…" into
// Twilio's whatsapp:+E164 form.
func NormalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "whatsapp:") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "+") {
		return "whatsapp:" + trimmed
	}
	return "whatsapp:+" + trimmed
}

// StripWhatsAppPrefix returns the bare number from a webhook "From" value.
func StripWhatsAppPrefix(from string) string {
	return strings.TrimPrefix(strings.TrimSpace(from), "whatsapp:")
}
