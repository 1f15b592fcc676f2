package notify

import (
	"fmt"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Sender delivers a short message to a recipient address. Delivery is best
// effort; callers must not fail their own operation when Send errors.
type Sender interface {
	Send(recipient, message string) error
}

// TwilioSender sends SMS through the Twilio REST API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

// TwilioEnabled reports whether Twilio credentials are configured.
func TwilioEnabled() bool {
	return os.Getenv("TWILIO_ACCOUNT_SID") != "" && os.Getenv("TWILIO_AUTH_TOKEN") != ""
}

// NewTwilioSender builds a sender from TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN
// and TWILIO_FROM.
func NewTwilioSender() *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: os.Getenv("TWILIO_ACCOUNT_SID"),
		Password: os.Getenv("TWILIO_AUTH_TOKEN"),
	})
	return &TwilioSender{client: client, from: os.Getenv("TWILIO_FROM")}
}

func (t *TwilioSender) Send(recipient, message string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(t.from)
	params.SetBody(message)
	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	return nil
}

// Service wraps a Sender with logging and a nil-safe fallback. When no sender
// is configured (local development) Deliver reports delivered=false so the
// caller can disclose the code in band instead.
type Service struct {
	sender Sender
	log    *zap.SugaredLogger
}

func NewService(sender Sender, log *zap.SugaredLogger) *Service {
	return &Service{sender: sender, log: log}
}

// Deliver sends the message and reports whether it actually went out.
// A failed or missing transport is logged, never fatal.
func (s *Service) Deliver(recipient, message string) bool {
	if s.sender == nil {
		s.log.Debugw("no sender configured, skipping delivery", "recipient", recipient)
		return false
	}
	if err := s.sender.Send(recipient, message); err != nil {
		s.log.Warnw("message delivery failed", "recipient", recipient, "error", err)
		return false
	}
	s.log.Infow("✅ Message delivered", "recipient", recipient)
	return true
}
