package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/inboxtriage/internal/google"
	"github.com/teemow/inboxtriage/internal/instrumentation"
	"github.com/teemow/inboxtriage/internal/logging"
)

const me = "me"

// Defaults for Options.
const (
	DefaultRateLimit = 10
	DefaultBurst     = 5
)

// Options configures a Client.
type Options struct {
	// RateLimit caps requests per second. Gmail allows far more per user,
	// but bursts of label writes across a thread are what trip quotas.
	RateLimit float64

	// Burst is the number of requests allowed at once.
	Burst int

	// Location is used for dates in rendered thread context. Defaults
	// to time.Local.
	Location *time.Location

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Client wraps the Gmail Users service.
type Client struct {
	svc      *gmail.UsersService
	account  string
	limiter  *rate.Limiter
	location *time.Location
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
}

// NewClientForAccount creates a Gmail client authorized for account.
func NewClientForAccount(ctx context.Context, tokens google.TokenProvider, account string, opts Options) (*Client, error) {
	ts, err := tokens.TokenSource(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", google.GetAuthenticationErrorMessage(account), err)
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(google.HTTPClient(ctx, ts)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return NewClientFromService(svc, account, opts), nil
}

// NewClientFromService wraps an existing Gmail service.
func NewClientFromService(svc *gmail.Service, account string, opts Options) *Client {
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Client{
		svc:      svc.Users,
		account:  account,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		location: opts.Location,
		metrics:  opts.Metrics,
		logger:   logging.WithComponent(logging.OrDefault(opts.Logger), "gmail"),
	}
}

// Account returns the account name this client is associated with.
func (c *Client) Account() string {
	return c.account
}

// do runs one API call: it waits for the rate limiter, traces and times
// the call and maps the error.
func (c *Client) do(ctx context.Context, op, kind string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, span := instrumentation.StartClientSpan(ctx, instrumentation.ServiceGmail, op)
	start := time.Now()

	err := mapError(op, fn(ctx))

	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, kind, instrumentation.StatusOf(err), time.Since(start))
	instrumentation.EndSpan(span, err)
	if err != nil {
		c.logger.Debug("gmail call failed", logging.Operation(op), logging.Err(err))
	}
	return err
}
