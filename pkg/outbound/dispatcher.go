package outbound

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/metriport/ihe-gateway/pkg/correlation"
	"github.com/metriport/ihe-gateway/pkg/directory"
	"github.com/metriport/ihe-gateway/pkg/docstore"
	"github.com/metriport/ihe-gateway/pkg/ihe"
	"github.com/metriport/ihe-gateway/pkg/message"
	"github.com/metriport/ihe-gateway/pkg/security"
	"github.com/metriport/ihe-gateway/pkg/transport"
)

// Defaults applied by New to zero Config fields
const (
	DefaultPatientDiscoveryTimeout  = 2 * time.Minute
	DefaultDocumentQueryTimeout     = 2 * time.Minute
	DefaultDocumentRetrievalTimeout = 5 * time.Minute
	DefaultConcurrency              = 10
	DefaultMaxAttempts              = 3
	DefaultRetryDelay               = 3 * time.Second
)

// Config holds the dispatcher settings
type Config struct {
	// HomeCommunityID and OrganizationName identify the local community in
	// patient discovery requests
	HomeCommunityID  string
	OrganizationName string
	ProcessingCode   string

	// Assertion fills any security assertion attribute the request omits
	Assertion ihe.SecurityAssertion
	// AssertionIssuer and NameID override the values taken from the
	// signing certificate
	AssertionIssuer string
	NameID          string

	PatientDiscoveryTimeout  time.Duration
	DocumentQueryTimeout     time.Duration
	DocumentRetrievalTimeout time.Duration

	// Concurrency bounds the number of gateways contacted at once for one
	// request
	Concurrency int

	// MaxAttempts and RetryDelay govern retries of transient failures. The
	// delay doubles after each attempt.
	MaxAttempts int
	RetryDelay  time.Duration

	// GatewayRate limits requests per second to any single gateway across
	// all requests. Zero disables the limit.
	GatewayRate  float64
	GatewayBurst int

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.PatientDiscoveryTimeout <= 0 {
		c.PatientDiscoveryTimeout = DefaultPatientDiscoveryTimeout
	}
	if c.DocumentQueryTimeout <= 0 {
		c.DocumentQueryTimeout = DefaultDocumentQueryTimeout
	}
	if c.DocumentRetrievalTimeout <= 0 {
		c.DocumentRetrievalTimeout = DefaultDocumentRetrievalTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.GatewayBurst <= 0 {
		c.GatewayBurst = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Sender posts an envelope to a gateway. *transport.HTTPSClient is the
// production implementation.
type Sender interface {
	Send(ctx context.Context, endpoint string, body []byte, contentType, action string) (*transport.Response, error)
}

// Signer attaches the SAML assertion. *security.Signer is the production
// implementation.
type Signer interface {
	AttachAssertion(env *message.Envelope, a ihe.SecurityAssertion, opts security.AssertionOptions) error
}

// DocumentSink stores retrieved document payloads. *docstore.Store is the
// production implementation.
type DocumentSink interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (*docstore.Saved, error)
}

// ResultArchive keeps a copy of processed results. *docstore.Archive is the
// production implementation.
type ResultArchive interface {
	Put(ctx context.Context, e docstore.Entry) (string, error)
}

// Option configures optional dispatcher collaborators
type Option func(*Dispatcher)

// WithDirectory resolves gateways that carry no URL
func WithDirectory(d directory.Directory) Option {
	return func(x *Dispatcher) { x.directory = d }
}

// WithStore records every result under its request id as it lands
func WithStore(s correlation.Store) Option {
	return func(x *Dispatcher) { x.store = s }
}

// WithDocumentSink stores retrieved documents and links them by URI
func WithDocumentSink(s DocumentSink) Option {
	return func(x *Dispatcher) { x.sink = s }
}

// WithResultArchive archives every patient discovery result
func WithResultArchive(a ResultArchive) Option {
	return func(x *Dispatcher) { x.archive = a }
}

// WithReporter replaces the default LogReporter
func WithReporter(r Reporter) Option {
	return func(x *Dispatcher) { x.reporter = r }
}

// Dispatcher fans outbound requests out to remote gateways and collects one
// result per gateway. Remote failures never surface as errors: each becomes
// an OperationOutcome on that gateway's result.
type Dispatcher struct {
	cfg       Config
	sender    Sender
	signer    Signer
	directory directory.Directory
	store     correlation.Store
	sink      DocumentSink
	archive   ResultArchive
	reporter  Reporter
	validate  *validator.Validate
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	running sync.WaitGroup
}

// New creates a dispatcher. A nil signer sends unsigned requests, which
// only test partners accept.
func New(cfg Config, sender Sender, signer Signer, opts ...Option) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		cfg:      cfg,
		sender:   sender,
		signer:   signer,
		validate: validator.New(),
		logger:   cfg.Logger,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.reporter == nil {
		d.reporter = LogReporter{Logger: d.logger}
	}
	if signer == nil {
		d.logger.Warn("outbound requests will not be signed")
	}
	return d
}

// background runs fn outside the caller's request
func (d *Dispatcher) background(fn func()) {
	d.running.Add(1)
	go func() {
		defer d.running.Done()
		fn()
	}()
}

// Wait blocks until every exchange started with a Start method has
// finished, or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exchange is one request to one gateway
type exchange struct {
	tx      ihe.TransactionType
	gw      ihe.Gateway
	action  string
	timeout time.Duration
	// build creates a fresh envelope for each attempt so the assertion
	// timestamps stay current across retries
	build func() (*message.Envelope, error)
}

// fanOut runs call for every index with bounded concurrency and returns
// the results in index order.
func fanOut[T any](d *Dispatcher, n int, call func(i int) T) []T {
	results := make([]T, n)
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i] = call(i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// send performs the exchange, retrying transient failures
func (d *Dispatcher) send(ctx context.Context, ex exchange) (*transport.Response, error) {
	delay := d.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		resp, err := d.attempt(ctx, ex)
		if err == nil {
			return resp, nil
		}
		if attempt >= d.cfg.MaxAttempts || !retryable(err) {
			return nil, err
		}

		d.logger.Info("retrying gateway",
			"transaction", ex.tx,
			"gateway", ex.gw.HomeCommunityID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, err
		}
		delay *= 2
	}
}

func (d *Dispatcher) attempt(ctx context.Context, ex exchange) (*transport.Response, error) {
	env, err := ex.build()
	if err != nil {
		return nil, &prepareError{err: err}
	}
	body, err := env.Bytes()
	if err != nil {
		return nil, &prepareError{err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, ex.timeout)
	defer cancel()

	if l := d.limiter(ex.gw.HomeCommunityID); l != nil {
		if err := l.Wait(callCtx); err != nil {
			return nil, &TimeoutError{Timeout: ex.timeout}
		}
	}

	resp, err := d.sender.Send(callCtx, ex.gw.URL, body, message.ContentType(ex.action), ex.action)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Timeout: ex.timeout}
	}
	return resp, err
}

func (d *Dispatcher) limiter(gateway string) *rate.Limiter {
	if d.cfg.GatewayRate <= 0 {
		return nil
	}
	key := ihe.NormalizeOID(gateway)

	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.cfg.GatewayRate), d.cfg.GatewayBurst)
		d.limiters[key] = l
	}
	return l
}

// sign attaches the security header for a request to gw
func (d *Dispatcher) sign(env *message.Envelope, a ihe.SecurityAssertion, gw ihe.Gateway) error {
	if d.signer == nil {
		return nil
	}
	return d.signer.AttachAssertion(env, a, security.AssertionOptions{
		Audience:   gw.URL,
		GatewayOID: gw.HomeCommunityID,
		Issuer:     d.cfg.AssertionIssuer,
		NameID:     d.cfg.NameID,
	})
}

// failed logs a failed exchange and alerts operators unless the failure is
// known network noise. The returned issue belongs on the gateway's result.
func (d *Dispatcher) failed(ctx context.Context, alert Alert, err error) ihe.Issue {
	issue := failureIssue(err)
	alert.Err = err
	if ShouldReportOutboundError(err) {
		alert.Message = "outbound " + string(alert.Transaction) + " failed"
		d.reporter.Report(ctx, alert)
	} else {
		d.logger.Info("outbound exchange failed",
			"transaction", alert.Transaction,
			"request_id", alert.RequestID,
			"gateway", alert.Gateway.HomeCommunityID,
			"error", err,
		)
	}
	return issue
}

// begin opens the correlation record for a fan-out of n gateways
func (d *Dispatcher) begin(ctx context.Context, tx ihe.TransactionType, id, patientID, cxID string, n int) {
	if d.store == nil {
		return
	}
	err := d.store.Begin(ctx, correlation.Record{
		RequestID:   id,
		PatientID:   patientID,
		CxID:        cxID,
		Transaction: tx,
		Expected:    n,
	})
	if err != nil {
		d.logger.Error("failed to open correlation record", "request_id", id, "error", err)
	}
}

// record stores one gateway's result as soon as it is known
func (d *Dispatcher) record(ctx context.Context, id string, result any) {
	if d.store == nil {
		return
	}
	if err := correlation.Add(ctx, d.store, id, result); err != nil {
		d.logger.Error("failed to store result", "request_id", id, "error", err)
	}
}

func now() time.Time {
	return time.Now().UTC()
}
