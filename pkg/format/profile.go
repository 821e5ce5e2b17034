package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"posload/pkg/engine"
)

const (
	DefaultHTTPTimeout = 60 * time.Second
	DefaultEventBuffer = 1024
)

// CheckoutProfile is the peak checkout/lookup load: 20 VUs with p95 limits
// on lookup and checkout latency.
func CheckoutProfile() Profile {
	return Profile{
		Name: "checkout",
		Stages: []Stage{
			{Duration: "20s", Target: 20},
			{Duration: "40s", Target: 20},
			{Duration: "20s", Target: 0},
		},
		Thresholds: map[string][]string{
			"http_req_duration{endpoint:lookup}":   {"p(95)<1000"},
			"http_req_duration{endpoint:checkout}": {"p(95)<1800"},
		},
	}
}

// ReportingProfile is the peak reporting load: 10 VUs, no thresholds.
func ReportingProfile() Profile {
	return Profile{
		Name: "reporting",
		Stages: []Stage{
			{Duration: "20s", Target: 10},
			{Duration: "40s", Target: 10},
			{Duration: "20s", Target: 0},
		},
	}
}

// LoadFile reads a profile in YAML, JSON or TOML, chosen by extension.
func LoadFile(path string) (Profile, error) {
	var p Profile
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("cannot read profile file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("invalid YAML format: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("invalid JSON format: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("invalid TOML format: %w", err)
		}
	default:
		return p, fmt.Errorf("unsupported profile format: %s", ext)
	}
	return p, nil
}

// Overlay returns base with every field set in p replacing it. An empty,
// non-nil thresholds map clears the base thresholds.
func (p Profile) Overlay(base Profile) Profile {
	out := base
	if p.Name != "" {
		out.Name = p.Name
	}
	if p.StartVUs > 0 {
		out.StartVUs = p.StartVUs
	}
	if len(p.Stages) > 0 {
		out.Stages = p.Stages
	}
	if p.GracefulStop != "" {
		out.GracefulStop = p.GracefulStop
	}
	if p.HTTPTimeout != "" {
		out.HTTPTimeout = p.HTTPTimeout
	}
	if p.Thresholds != nil {
		out.Thresholds = p.Thresholds
	}
	if p.EventBuffer > 0 {
		out.EventBuffer = p.EventBuffer
	}
	return out
}

// Options converts the profile into runner options.
func (p Profile) Options() (engine.Options, error) {
	var errs *multierror.Error
	opts := engine.Options{StartVUs: p.StartVUs, GracefulStop: engine.DefaultGracefulStop}

	for i, st := range p.Stages {
		d, err := time.ParseDuration(st.Duration)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("stage %d: invalid duration: %w", i, err))
			continue
		}
		opts.Stages = append(opts.Stages, engine.Stage{Duration: d, Target: st.Target})
	}
	if p.GracefulStop != "" {
		d, err := time.ParseDuration(p.GracefulStop)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("invalid graceful_stop: %w", err))
		}
		opts.GracefulStop = d
	}
	if err := errs.ErrorOrNil(); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

// Timeout is the per-request HTTP timeout.
func (p Profile) Timeout() (time.Duration, error) {
	if p.HTTPTimeout == "" {
		return DefaultHTTPTimeout, nil
	}
	d, err := time.ParseDuration(p.HTTPTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid http_timeout: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("http_timeout must be positive")
	}
	return d, nil
}

// Buffer is the live event buffer size.
func (p Profile) Buffer() int {
	if p.EventBuffer <= 0 {
		return DefaultEventBuffer
	}
	return p.EventBuffer
}

// Validate checks stages, timeouts and thresholds together.
func (p Profile) Validate() error {
	var errs *multierror.Error
	if _, err := p.Options(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := p.Timeout(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := engine.ParseThresholds(p.Thresholds); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// Encode writes p as YAML.
func (p Profile) Encode() ([]byte, error) {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}
