package scenario

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"posload/pkg/config"
	"posload/pkg/engine"
	"posload/pkg/format"
)

// Journey is one scripted user journey. Iterate runs a single iteration and
// is called concurrently by many VUs; implementations hold no mutable state.
type Journey interface {
	Name() string
	Profile() format.Profile
	Iterate(ctx context.Context, vu engine.VU)
}

type factory func(cfg config.Config, client *Client) Journey

var journeys = map[string]factory{
	"checkout":  func(cfg config.Config, client *Client) Journey { return NewCheckout(cfg, client) },
	"reporting": func(cfg config.Config, client *Client) Journey { return NewReporting(cfg, client) },
}

// Names lists the available journeys.
func Names() []string {
	names := make([]string, 0, len(journeys))
	for name := range journeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns the journey called name.
func New(name string, cfg config.Config, client *Client) (Journey, error) {
	f, ok := journeys[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown journey %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(cfg, client), nil
}

// Profile returns the built-in profile of the journey called name.
func Profile(name string) (format.Profile, error) {
	switch strings.ToLower(name) {
	case "checkout":
		return format.CheckoutProfile(), nil
	case "reporting":
		return format.ReportingProfile(), nil
	}
	return format.Profile{}, fmt.Errorf("unknown journey %q (available: %s)", name, strings.Join(Names(), ", "))
}

// pause sleeps for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// iterationKey is unique per (run, VU, iteration) so concurrent VUs and
// repeated runs never reuse a line key or an idempotency key.
func iterationKey(kind string, vu engine.VU) string {
	run := vu.RunID
	if len(run) > 8 {
		run = run[:8]
	}
	if run == "" {
		return fmt.Sprintf("posload-%s-%d-%d", kind, vu.ID, vu.Iteration)
	}
	return fmt.Sprintf("posload-%s-%s-%d-%d", kind, run, vu.ID, vu.Iteration)
}
