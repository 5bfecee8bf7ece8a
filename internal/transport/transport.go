// Package transport delivers rendered stage content over a channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrUnsupportedChannel is returned for channels with no registered sender.
var ErrUnsupportedChannel = errors.New("unsupported channel")

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Message is one unit of content for one recipient.
type Message struct {
	DeliveryID  string
	TenantID    string
	JourneyID   string
	StageID     string
	RecipientID string
	Channel     domain.Channel
	Subject     string
	Body        string
	Settings    map[string]interface{}
	Recipient   map[string]interface{}
}

// Address returns the recipient attribute at key as a string.
func (m Message) Address(key string) string {
	v, _ := m.Recipient[key].(string)
	return v
}

// Setting returns a string-valued stage setting.
func (m Message) Setting(key string) string {
	v, _ := m.Settings[key].(string)
	return v
}

// Receipt is what a sender learned on acceptance. Status is sent when the
// provider only queued the message, delivered when it landed immediately.
type Receipt struct {
	ProviderMessageID string
	Status            domain.DeliveryStatus
}

// Sender transmits messages for one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) (Receipt, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Message) (Receipt, error) { return f(ctx, msg) }

type route struct {
	sender  Sender
	limiter *rate.Limiter
}

// Router dispatches messages to the sender registered for their channel,
// throttling each channel independently.
type Router struct {
	mu     sync.RWMutex
	routes map[domain.Channel]route
}

// NewRouter creates a router with no channels.
func NewRouter() *Router {
	return &Router{routes: map[domain.Channel]route{}}
}

// Register installs s for ch. perSecond <= 0 disables throttling.
func (r *Router) Register(ch domain.Channel, s Sender, perSecond float64, burst int) {
	l := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	r.mu.Lock()
	r.routes[ch] = route{sender: s, limiter: l}
	r.mu.Unlock()
}

// Supports reports whether ch has a sender.
func (r *Router) Supports(ch domain.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[ch]
	return ok
}

// Send waits for the channel's rate limit and hands msg to its sender.
func (r *Router) Send(ctx context.Context, msg Message) (Receipt, error) {
	r.mu.RLock()
	rt, ok := r.routes[msg.Channel]
	r.mu.RUnlock()
	if !ok {
		return Receipt{}, Permanent(fmt.Errorf("%w: %s", ErrUnsupportedChannel, msg.Channel))
	}
	if err := rt.limiter.Wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("%s rate limit: %w", msg.Channel, err)
	}
	rec, err := rt.sender.Send(ctx, msg)
	if err != nil {
		return Receipt{}, err
	}
	if rec.Status == "" {
		rec.Status = domain.DeliverySent
	}
	return rec, nil
}
