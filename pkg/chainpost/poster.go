// Package chainpost posts time-series sensor readings to a Chain API site. Devices
// and sensors are discovered through hypermedia relations and created on first
// use; readings are posted one at a time or in batches.
//
// A Poster is not safe for concurrent use.
package chainpost

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/bmayton/chainpost/pkg/hypermedia"
)

// DefaultBackoff is the interval after a failure during which reconnects are
// suppressed.
const DefaultBackoff = 60 * time.Second

const (
	relDevices     = "ch:devices"
	relSensors     = "ch:sensors"
	relDataHistory = "ch:dataHistory"
)

type Poster struct {
	siteURL string
	client  hypermedia.Client
	auth    hypermedia.Credentials
	logger  *slog.Logger
	clock   clock.Clock
	backoff time.Duration

	// site, devicesColl and devices are set and cleared together.
	site        hypermedia.Resource
	devicesColl hypermedia.Collection
	devices     map[string]hypermedia.Resource
	lastFailure time.Time
}

type Option func(*Poster)

// WithAuth sets the credentials passed on every remote call.
func WithAuth(c hypermedia.Credentials) Option {
	return func(p *Poster) { p.auth = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poster) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(p *Poster) {
		if c != nil {
			p.clock = c
		}
	}
}

// New creates a disconnected Poster for the site at siteURL.
func New(siteURL string, client hypermedia.Client, opts ...Option) *Poster {
	p := &Poster{
		siteURL: siteURL,
		client:  client,
		logger:  slog.Default(),
		clock:   clock.New(),
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open creates a Poster and attempts the initial connection. A failed attempt is
// logged and arms the backoff; the next post reconnects once it has passed.
func Open(ctx context.Context, siteURL string, client hypermedia.Client, opts ...Option) *Poster {
	p := New(siteURL, client, opts...)
	_ = p.Connect(ctx)
	return p
}

// Connect fetches the site and indexes its devices by name. It returns nil at once
// when already connected, and ErrBackoff without any I/O while the backoff
// window of the last failure is open.
func (p *Poster) Connect(ctx context.Context) error {
	if p.site != nil {
		return nil
	}
	if !p.lastFailure.IsZero() && p.clock.Since(p.lastFailure) < p.backoff {
		return ErrBackoff
	}

	p.logger.Info("connecting", "site", p.siteURL)
	if err := p.connect(ctx); err != nil {
		p.clear()
		p.lastFailure = p.clock.Now()
		p.logger.Error("connection failure", "site", p.siteURL, "error", err)
		return fmt.Errorf("connect %s: %w", p.siteURL, err)
	}
	p.logger.Info("connected", "site", p.siteURL, "devices", len(p.devices))
	return nil
}

func (p *Poster) connect(ctx context.Context) error {
	site, err := p.client.Fetch(ctx, p.siteURL, p.withAuth())
	if err != nil {
		return err
	}
	coll, err := site.Relation(ctx, relDevices, p.withAuth())
	if err != nil {
		return err
	}
	items, err := coll.Items(ctx, p.withAuth())
	if err != nil {
		return err
	}

	devices := make(map[string]hypermedia.Resource, len(items))
	for _, dev := range items {
		devices[dev.String("name")] = dev
	}
	p.site, p.devicesColl, p.devices = site, coll, devices
	return nil
}

// Reset drops the connection state and starts a new backoff window.
func (p *Poster) Reset() {
	p.clear()
	p.lastFailure = p.clock.Now()
}

func (p *Poster) clear() {
	p.site = nil
	p.devicesColl = nil
	p.devices = nil
}

// Connected reports whether the site handle is held. No liveness check is made.
func (p *Poster) Connected() bool {
	return p.site != nil
}

// LastFailure is the time of the last connection failure, zero if none.
func (p *Poster) LastFailure() time.Time {
	return p.lastFailure
}

// GetDevice returns the device called name, creating it when the site does not
// have one yet.
func (p *Poster) GetDevice(ctx context.Context, name string) (hypermedia.Resource, error) {
	if dev, ok := p.devices[name]; ok {
		return dev, nil
	}
	if p.devicesColl == nil {
		return nil, ErrNotConnected
	}

	p.logger.Info("creating device", "device", name)
	dev, err := p.devicesColl.Create(ctx, map[string]any{"name": name}, p.withAuth())
	if err != nil {
		return nil, fmt.Errorf("create device %q: %w", name, err)
	}
	p.devices[name] = dev
	return dev, nil
}

// FindSensor returns the sensor of device that measures metric, creating it with
// unit when missing. An empty unit selects LookupUnitByMetric(metric). Sensors
// are looked up on the server every time.
func (p *Poster) FindSensor(ctx context.Context, device, metric, unit string) (hypermedia.Resource, error) {
	dev, err := p.GetDevice(ctx, device)
	if err != nil {
		return nil, err
	}
	sensors, err := dev.Relation(ctx, relSensors, p.withAuth())
	if err != nil {
		return nil, err
	}
	items, err := sensors.Items(ctx, p.withAuth())
	if err != nil {
		return nil, err
	}
	for _, s := range items {
		if s.String("metric") == metric {
			return s, nil
		}
	}

	if unit == "" {
		unit = LookupUnitByMetric(metric)
	}
	p.logger.Info("creating sensor", "device", device, "metric", metric, "unit", unit)
	sensor, err := sensors.Create(ctx, map[string]any{"metric": metric, "unit": unit}, p.withAuth())
	if err != nil {
		return nil, fmt.Errorf("create sensor %q on %q: %w", metric, device, err)
	}
	return sensor, nil
}

type postOptions struct {
	unit      string
	timestamp time.Time
	tzoffset  string
}

type PostOption func(*postOptions)

// WithUnit sets the unit used if the sensor has to be created.
func WithUnit(unit string) PostOption {
	return func(o *postOptions) { o.unit = unit }
}

// WithTimestamp sets the reading time of PostData. Batches carry their own.
func WithTimestamp(ts time.Time) PostOption {
	return func(o *postOptions) { o.timestamp = ts }
}

// WithTZOffset sets a suffix such as "-05:00" appended verbatim to rendered
// timestamps.
func WithTZOffset(offset string) PostOption {
	return func(o *postOptions) { o.tzoffset = offset }
}

func applyPostOptions(opts []PostOption) postOptions {
	var o postOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// PostData posts one reading for metric on device. Without a timestamp the
// current UTC time is used. When no connection can be made the sample is dropped
// and the error wraps ErrNotConnected.
func (p *Poster) PostData(ctx context.Context, device, metric string, value float64, opts ...PostOption) error {
	o := applyPostOptions(opts)
	if err := p.Connect(ctx); err != nil {
		p.logger.Warn("dropping sample due to connection failure", "device", device, "metric", metric)
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	ts, tz := o.timestamp, o.tzoffset
	if ts.IsZero() {
		ts, tz = p.clock.Now().UTC(), UTCOffset
	}
	return p.post(ctx, device, metric, o.unit, NewRecord(ts, value, tz))
}

// PostMultiple posts samples for metric on device in a single request. An empty
// batch is a no-op.
func (p *Poster) PostMultiple(ctx context.Context, device, metric string, samples []Sample, opts ...PostOption) error {
	if len(samples) == 0 {
		return nil
	}
	o := applyPostOptions(opts)
	if err := p.Connect(ctx); err != nil {
		p.logger.Warn("dropping samples due to connection failure",
			"device", device,
			"metric", metric,
			"count", len(samples),
		)
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	records := make([]Record, 0, len(samples))
	for _, s := range samples {
		records = append(records, NewRecord(s.Timestamp, s.Value, o.tzoffset))
	}
	return p.post(ctx, device, metric, o.unit, records)
}

func (p *Poster) post(ctx context.Context, device, metric, unit string, body any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = p.fail(device, metric, errors.Errorf("panic while posting: %v", r))
		}
	}()

	sensor, err := p.FindSensor(ctx, device, metric, unit)
	if err != nil {
		return p.fail(device, metric, err)
	}
	history, err := sensor.Relation(ctx, relDataHistory, p.withAuth())
	if err != nil {
		return p.fail(device, metric, err)
	}
	if _, err := history.Create(ctx, body, p.withAuth(), hypermedia.NoCache()); err != nil {
		return p.fail(device, metric, err)
	}
	return nil
}

// fail resets the connection for connection-class errors. Anything else leaves
// the state alone.
func (p *Poster) fail(device, metric string, err error) error {
	if hypermedia.IsConnectionError(err) {
		p.Reset()
		p.logger.Error("connection failure", "device", device, "metric", metric, "error", err)
		return fmt.Errorf("post %s on %s: %w", metric, device, err)
	}
	err = errors.WithStack(err)
	p.logger.Error("failed to post data",
		"device", device,
		"metric", metric,
		"error", err,
		"trace", fmt.Sprintf("%+v", err),
	)
	return fmt.Errorf("post %s on %s: %w", metric, device, err)
}

func (p *Poster) withAuth() hypermedia.RequestOption {
	return hypermedia.WithAuth(p.auth)
}
