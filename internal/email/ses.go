// Package email sends transactional mail through AWS SES v2: the email-challenge
// verification message and decision notices. When notifications are disabled or no
// from-address is configured the sender runs in disabled mode, logging instead of
// sending, which keeps local development free of AWS credentials.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/heirloom-app/heirloom/internal/config"
)

// Sender delivers workflow emails through SES
type Sender struct {
	client   *sesv2.Client
	from     string
	fromName string
	baseURL  string
	enabled  bool
}

// NewSender creates an SES sender from the notifications configuration. publicURL
// is the browser-facing base URL used to build verification links.
func NewSender(ctx context.Context, cfg config.NotificationsConfig, publicURL string) (*Sender, error) {
	if !cfg.Enabled || cfg.FromEmail == "" {
		slog.Info("email sending disabled; messages will be logged only")
		return &Sender{enabled: false, baseURL: publicURL}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Sender{
		client:   sesv2.NewFromConfig(awsCfg),
		from:     cfg.FromEmail,
		fromName: cfg.FromName,
		baseURL:  publicURL,
		enabled:  true,
	}, nil
}

// SendClaimChallenge emails the verification link for an email-challenge claim to
// the purported original owner. The raw token appears only in this message.
func (s *Sender) SendClaimChallenge(ctx context.Context, to, familyName, claimantName, rawToken string) error {
	verifyURL := fmt.Sprintf("%s/claims/verify?token=%s", s.baseURL, rawToken)
	subject := fmt.Sprintf("Confirm the admin request for %s", familyName)

	textBody := fmt.Sprintf(
		"%s has asked to become the administrator of the %s family space.\n\n"+
			"If you recognise this request, confirm it by opening the link below within 24 hours:\n\n%s\n\n"+
			"If you do not recognise this request, ignore this message and nothing will change.\n",
		claimantName, familyName, verifyURL)

	htmlBody := fmt.Sprintf(
		`<p><strong>%s</strong> has asked to become the administrator of the <strong>%s</strong> family space.</p>
<p>If you recognise this request, confirm it within 24 hours:</p>
<p><a href="%s">Confirm admin request</a></p>
<p>If you do not recognise this request, ignore this message and nothing will change.</p>`,
		claimantName, familyName, verifyURL)

	return s.send(ctx, to, subject, htmlBody, textBody)
}

// SendDecisionNotice emails the claimant the outcome of their claim
func (s *Sender) SendDecisionNotice(ctx context.Context, to, familyName, status string) error {
	subject := fmt.Sprintf("Update on your admin request for %s", familyName)
	body := fmt.Sprintf("Your admin request for the %s family space is now: %s.\n", familyName, status)
	html := fmt.Sprintf("<p>Your admin request for the <strong>%s</strong> family space is now: <strong>%s</strong>.</p>", familyName, status)
	return s.send(ctx, to, subject, html, body)
}

func (s *Sender) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if !s.enabled {
		slog.Info("email suppressed (sender disabled)", "to", to, "subject", subject)
		return nil
	}

	from := s.from
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.from)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody)},
					Text: &types.Content{Data: aws.String(textBody)},
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	slog.Debug("email sent", "to", to, "subject", subject)
	return nil
}
