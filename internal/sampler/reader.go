package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/creepmon/internal/clock"
	"github.com/skobkin/creepmon/internal/credential"
)

const (
	dateLayout        = "02/01"
	measureDecimals   = 3
	maxLoggedBodySize = 256
)

// FormParams are the fixed service parameters of the telemetry request.
type FormParams struct {
	ContextID string
	CaptureID string
	Service   string
	Action    string
}

// Values builds the request form for the given session token.
func (p FormParams) Values(token string) url.Values {
	return url.Values{
		"a":       {"default"},
		"c":       {p.ContextID},
		"i":       {p.CaptureID},
		"s":       {token},
		"x":       {"service"},
		"service": {p.Service},
		"names":   {"action"},
		"values":  {p.Action},
	}
}

// ReaderConfig holds the run constants the Reader needs.
type ReaderConfig struct {
	Endpoint         string
	Form             FormParams
	OriginalLengthMM float64
	ExperimentStart  time.Time
	DisplayZone      *time.Location
	Timeout          time.Duration
}

// Refresher updates credential state before a request.
type Refresher interface {
	Refresh(ctx context.Context, state *credential.State) credential.Result
}

// Reader fetches one telemetry sample per call from the remote service.
type Reader struct {
	cfg       ReaderConfig
	endpoint  *url.URL
	transport Transport
	refresher Refresher
	state     *credential.State
	clock     clock.Clock
	logger    *slog.Logger
}

// NewReader constructs a Reader. The state is shared with the refresher
// and mutated on every call to Sample.
func NewReader(cfg ReaderConfig, transport Transport, refresher Refresher, state *credential.State, clk clock.Clock, logger *slog.Logger) (*Reader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be an absolute URL", cfg.Endpoint)
	}
	if cfg.OriginalLengthMM <= 0 {
		return nil, fmt.Errorf("original length must be > 0")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0")
	}
	if transport == nil || refresher == nil || state == nil {
		return nil, fmt.Errorf("transport, refresher and state are required")
	}
	if cfg.DisplayZone == nil {
		cfg.DisplayZone = time.UTC
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reader{
		cfg:       cfg,
		endpoint:  endpoint,
		transport: transport,
		refresher: refresher,
		state:     state,
		clock:     clk,
		logger:    logger,
	}, nil
}

// Endpoint returns a copy of the parsed service URL.
func (r *Reader) Endpoint() *url.URL {
	u := *r.endpoint
	return &u
}

// Sample performs one authenticated fetch. Failures never escape: they
// are logged and replaced by an error sample of the matching kind.
func (r *Reader) Sample(ctx context.Context) (out Sample) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logFailure(&FetchError{Kind: KindFetch, Err: fmt.Errorf("panic: %v", rec)})
			out = r.errorSample(KindFetch)
		}
	}()

	sample, err := r.fetch(ctx)
	if err != nil {
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			fetchErr = &FetchError{Kind: KindFetch, Err: err}
		}
		r.logFailure(fetchErr)
		return r.errorSample(fetchErr.Kind)
	}

	r.logger.Info("api success",
		"temperature_c", sample.TemperatureC,
		"length_mm", sample.ChangeInLengthMM,
		"strain_pct", sample.StrainPercent,
		"elapsed_s", sample.ElapsedSeconds,
	)
	if sample.RemoteElapsed != nil {
		r.logger.Debug("remote elapsed", "value", *sample.RemoteElapsed, "local_elapsed_s", sample.ElapsedSeconds)
	}
	return sample
}

func (r *Reader) fetch(ctx context.Context) (Sample, error) {
	r.refresher.Refresh(ctx, r.state)

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.transport.Do(reqCtx, Request{
		URL:     r.cfg.Endpoint,
		Form:    r.cfg.Form.Values(r.state.Token),
		Cookies: r.state.HTTPCookies(r.endpoint),
	})
	if err != nil {
		return Sample{}, &FetchError{Kind: KindRequest, Err: err}
	}

	var document any
	if err := json.Unmarshal(resp.Body, &document); err != nil {
		return Sample{}, &FetchError{Kind: KindJSON, Err: err}
	}

	data, ok := payloadData(document)
	if !ok {
		return Sample{}, &FetchError{
			Kind: KindAPIFormat,
			Err:  fmt.Errorf("missing ok.data envelope in %s", truncate(resp.Body, maxLoggedBodySize)),
		}
	}

	extension, _, err := numberField(data, "extension")
	if err != nil {
		return Sample{}, &FetchError{Kind: KindFetch, Err: err}
	}
	temperature, _, err := numberField(data, "temperature")
	if err != nil {
		return Sample{}, &FetchError{Kind: KindFetch, Err: err}
	}
	running, err := boolField(data, "running")
	if err != nil {
		return Sample{}, &FetchError{Kind: KindFetch, Err: err}
	}
	remoteElapsed, hasElapsed, err := numberField(data, "elapsed")
	if err != nil {
		return Sample{}, &FetchError{Kind: KindFetch, Err: err}
	}

	sample := r.baseSample(r.clock.Now())
	change := roundTo(extension, measureDecimals)
	sample.ChangeInLengthMM = change
	sample.StrainPercent = roundTo(change/r.cfg.OriginalLengthMM*100, measureDecimals)
	sample.Running = running
	sample.TemperatureC = temperature
	sample.StatusCode = strconv.Itoa(resp.StatusCode)
	if hasElapsed {
		sample.RemoteElapsed = &remoteElapsed
	}
	return sample, nil
}

func (r *Reader) errorSample(kind ErrorKind) Sample {
	sample := r.baseSample(r.clock.Now())
	sample.StatusCode = kind.StatusCode()
	return sample
}

func (r *Reader) baseSample(now time.Time) Sample {
	return Sample{
		Timestamp:      now.UTC(),
		Date:           now.In(r.cfg.DisplayZone).Format(dateLayout),
		ElapsedSeconds: int64(now.Sub(r.cfg.ExperimentStart) / time.Second),
	}
}

func (r *Reader) logFailure(err *FetchError) {
	switch err.Kind {
	case KindRequest:
		r.logger.Error("api request failed", "err", err.Err)
	case KindJSON:
		r.logger.Error("failed to parse json response", "err", err.Err)
	case KindAPIFormat:
		r.logger.Error("unexpected api response format", "err", err.Err)
	default:
		r.logger.Error("error fetching sensor data", "err", err.Err)
	}
}

// payloadData unwraps {"ok": {"data": {...}}}.
func payloadData(document any) (map[string]any, bool) {
	root, ok := document.(map[string]any)
	if !ok {
		return nil, false
	}
	envelope, ok := root["ok"].(map[string]any)
	if !ok {
		return nil, false
	}
	data, ok := envelope["data"].(map[string]any)
	return data, ok
}

// numberField reads a numeric field. Absent and null fields yield 0;
// numeric strings are accepted.
func numberField(data map[string]any, key string) (float64, bool, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false, fmt.Errorf("field %q: %w", key, err)
		}
		value = parsed
	default:
		return 0, false, fmt.Errorf("field %q: unexpected type %T", key, raw)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false, fmt.Errorf("field %q: non-finite value %v", key, value)
	}
	return value, true, nil
}

func boolField(data map[string]any, key string) (bool, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return false, nil
	}
	switch value := raw.(type) {
	case bool:
		return value, nil
	case float64:
		return value != 0, nil
	default:
		return false, fmt.Errorf("field %q: unexpected type %T", key, raw)
	}
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
