package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// MailService sends security notification email. Delivery is dispatched
// through the background queue; this core never blocks a request on SES.
type MailService interface {
	SendNewLoginAlert(ctx context.Context, email, ipAddress string, at time.Time) error
	SendTwoFactorChangedAlert(ctx context.Context, email string, enabled bool) error
}

// AWSSESMailService sends mail using AWS SES
type AWSSESMailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESMailService creates a new AWS SES mail service
func NewAWSSESMailService(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESMailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESMailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// SendNewLoginAlert notifies the account owner of a fresh sign-in.
func (s *AWSSESMailService) SendNewLoginAlert(ctx context.Context, email, ipAddress string, at time.Time) error {
	subject := "New sign-in to your account"
	textBody := fmt.Sprintf(`A new sign-in to your account was recorded.

Time: %s
IP address: %s

If this was you, no action is needed. If you do not recognize this sign-in,
revoke your sessions and change your password immediately:

%s/settings/security

This is an automated message. Please do not reply to this email.
`, at.UTC().Format(time.RFC1123), ipAddress, s.baseURL)

	return s.send(ctx, email, subject, textBody)
}

// SendTwoFactorChangedAlert notifies the account owner that two-factor
// authentication was enabled or disabled.
func (s *AWSSESMailService) SendTwoFactorChangedAlert(ctx context.Context, email string, enabled bool) error {
	action := "disabled"
	if enabled {
		action = "enabled"
	}

	subject := fmt.Sprintf("Two-factor authentication %s", action)
	textBody := fmt.Sprintf(`Two-factor authentication was %s on your account.

If you did not make this change, revoke your sessions and change your
password immediately:

%s/settings/security

This is an automated message. Please do not reply to this email.
`, action, s.baseURL)

	return s.send(ctx, email, subject, textBody)
}

func (s *AWSSESMailService) send(ctx context.Context, email, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send mail via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("security mail sent",
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}
