package transport

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// SESAPI is the part of the SES v2 client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures the email sender.
type SESConfig struct {
	Region           string
	AccessKey        string
	SecretKey        string
	FromEmail        string
	FromName         string
	ConfigurationSet string
}

// SESSender sends email stages through AWS SES.
type SESSender struct {
	client SESAPI
	cfg    SESConfig
}

// NewSESSender builds an SES client. Static credentials are used when
// given, otherwise the default AWS credential chain.
func NewSESSender(ctx context.Context, cfg SESConfig) (*SESSender, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSESSenderWithClient(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewSESSenderWithClient uses an existing client.
func NewSESSenderWithClient(client SESAPI, cfg SESConfig) *SESSender {
	return &SESSender{client: client, cfg: cfg}
}

// Send implements Sender. The address comes from the recipient's "email"
// attribute; a stage "from_email" setting overrides the configured sender.
func (s *SESSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	to := msg.Address("email")
	if to == "" {
		return Receipt{}, Permanent(fmt.Errorf("recipient %s has no email address", msg.RecipientID))
	}
	from := s.cfg.FromEmail
	if v := msg.Setting("from_email"); v != "" {
		from = v
	}
	if name := s.cfg.FromName; name != "" {
		from = fmt.Sprintf("%s <%s>", name, from)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("tenant_id"), Value: aws.String(msg.TenantID)},
			{Name: aws.String("delivery_id"), Value: aws.String(msg.DeliveryID)},
		},
	}
	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}
	if v := msg.Setting("reply_to"); v != "" {
		input.ReplyToAddresses = []string{v}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		log.Printf("[SES] Failed to send to %s: %v", logger.RedactEmail(to), err)
		var rejected *types.MessageRejected
		var bad *types.BadRequestException
		var unverified *types.MailFromDomainNotVerifiedException
		if errors.As(err, &rejected) || errors.As(err, &bad) || errors.As(err, &unverified) {
			return Receipt{}, Permanent(err)
		}
		return Receipt{}, err
	}

	id := aws.ToString(out.MessageId)
	log.Printf("[SES] Sent to %s (id: %s)", logger.RedactEmail(to), id)
	return Receipt{ProviderMessageID: id}, nil
}
