package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
)

func sampleMessage(ch domain.Channel) Message {
	return Message{
		DeliveryID:  "d-1",
		TenantID:    "t1",
		JourneyID:   "j-1",
		StageID:     "welcome",
		RecipientID: "r-1",
		Channel:     ch,
		Subject:     "Hi",
		Body:        "<p>Hello</p>",
		Recipient:   map[string]interface{}{"email": "ada@example.com"},
	}
}

func TestRouter_UnsupportedChannelIsPermanent(t *testing.T) {
	r := NewRouter()
	_, err := r.Send(context.Background(), sampleMessage(domain.ChannelSMS))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
	assert.True(t, IsPermanent(err))
	assert.False(t, r.Supports(domain.ChannelSMS))
}

func TestRouter_DefaultsStatusToSent(t *testing.T) {
	r := NewRouter()
	r.Register(domain.ChannelEmail, SenderFunc(func(ctx context.Context, msg Message) (Receipt, error) {
		return Receipt{ProviderMessageID: "p-1"}, nil
	}), 0, 0)

	rec, err := r.Send(context.Background(), sampleMessage(domain.ChannelEmail))
	require.NoError(t, err)
	assert.Equal(t, "p-1", rec.ProviderMessageID)
	assert.Equal(t, domain.DeliverySent, rec.Status)
}

func TestRouter_RateLimitHonorsContext(t *testing.T) {
	r := NewRouter()
	r.Register(domain.ChannelEmail, SenderFunc(func(ctx context.Context, msg Message) (Receipt, error) {
		return Receipt{}, nil
	}), 0.001, 1)

	_, err := r.Send(context.Background(), sampleMessage(domain.ChannelEmail))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Send(ctx, sampleMessage(domain.ChannelEmail))
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("x")))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", Permanent(errors.New("x")))))
}

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	s := NewSESSenderWithClient(fake, SESConfig{FromEmail: "news@acme.test", FromName: "Acme", ConfigurationSet: "tracking"})

	rec, err := s.Send(context.Background(), sampleMessage(domain.ChannelEmail))
	require.NoError(t, err)
	assert.Equal(t, "ses-123", rec.ProviderMessageID)

	require.NotNil(t, fake.in)
	assert.Equal(t, "Acme <news@acme.test>", aws.ToString(fake.in.FromEmailAddress))
	assert.Equal(t, []string{"ada@example.com"}, fake.in.Destination.ToAddresses)
	assert.Equal(t, "Hi", aws.ToString(fake.in.Content.Simple.Subject.Data))
	assert.Equal(t, "tracking", aws.ToString(fake.in.ConfigurationSetName))
}

func TestSESSender_MissingAddressIsPermanent(t *testing.T) {
	s := NewSESSenderWithClient(&fakeSES{}, SESConfig{FromEmail: "news@acme.test"})
	msg := sampleMessage(domain.ChannelEmail)
	msg.Recipient = nil
	_, err := s.Send(context.Background(), msg)
	assert.True(t, IsPermanent(err))
}

func TestSESSender_ErrorClassification(t *testing.T) {
	s := NewSESSenderWithClient(&fakeSES{err: &types.MessageRejected{Message: aws.String("nope")}}, SESConfig{FromEmail: "a@b.test"})
	_, err := s.Send(context.Background(), sampleMessage(domain.ChannelEmail))
	assert.True(t, IsPermanent(err))

	s = NewSESSenderWithClient(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "a@b.test"})
	_, err = s.Send(context.Background(), sampleMessage(domain.ChannelEmail))
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestWebhookSender_Send(t *testing.T) {
	var got webhookPayload
	var sig, idem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		sig = r.Header.Get("X-Signature")
		idem = r.Header.Get("Idempotency-Key")
		w.Header().Set("X-Message-Id", "hook-9")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(httpretry.NewRetryClient(nil, 1, httpretry.WithBackoff(time.Millisecond, time.Millisecond)))
	s.Secret = "shh"
	msg := sampleMessage(domain.ChannelWebhook)
	msg.Settings = map[string]interface{}{"url": srv.URL}

	rec, err := s.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "hook-9", rec.ProviderMessageID)
	assert.Equal(t, "d-1", got.DeliveryID)
	assert.Equal(t, "welcome", got.StageID)
	assert.Equal(t, "d-1", idem)
	assert.Contains(t, sig, "sha256=")
}

func TestWebhookSender_StatusClassification(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	s := NewWebhookSender(http.DefaultClient)
	s.DefaultURL = srv.URL

	_, err := s.Send(context.Background(), sampleMessage(domain.ChannelWebhook))
	assert.True(t, IsPermanent(err))

	status = http.StatusBadGateway
	_, err = s.Send(context.Background(), sampleMessage(domain.ChannelWebhook))
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestWebhookSender_NoURL(t *testing.T) {
	s := NewWebhookSender(http.DefaultClient)
	_, err := s.Send(context.Background(), sampleMessage(domain.ChannelWebhook))
	assert.True(t, IsPermanent(err))
}

func TestInAppSender_PushesAndTrims(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewInAppSender(client)
	s.InboxSize = 2
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		msg := sampleMessage(domain.ChannelInApp)
		msg.DeliveryID = fmt.Sprintf("d-%d", i)
		rec, err := s.Send(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryDelivered, rec.Status)
	}

	items, err := client.LRange(ctx, InboxKey("t1", "r-1"), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, items, 2)

	var newest Notification
	require.NoError(t, json.Unmarshal([]byte(items[0]), &newest))
	assert.Equal(t, "d-2", newest.ID)
	assert.Equal(t, "Hi", newest.Title)
}
