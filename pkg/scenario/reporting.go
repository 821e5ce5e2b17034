package scenario

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"posload/pkg/config"
	"posload/pkg/engine"
	"posload/pkg/format"
)

const reportingEndPause = 200 * time.Millisecond

type report struct {
	name     string
	path     string
	endpoint string
	check    string
}

var reports = []report{
	{name: "sales report", path: "/api/reports/sales", endpoint: "report_sales", check: "sales report 200"},
	{name: "inventory report", path: "/api/reports/inventory/movements", endpoint: "report_inventory", check: "inventory report 200"},
	{name: "cash report", path: "/api/reports/cash/shifts", endpoint: "report_cash", check: "cash report 200"},
	{name: "exceptions report", path: "/api/reports/exceptions", endpoint: "report_exceptions", check: "exceptions report 200"},
}

// Reporting is the peak reporting journey: four independent read-only
// report queries over the configured date range.
type Reporting struct {
	cfg    config.Config
	client *Client
}

func NewReporting(cfg config.Config, client *Client) *Reporting {
	return &Reporting{cfg: cfg, client: client}
}

func (j *Reporting) Name() string { return "reporting" }

func (j *Reporting) Profile() format.Profile { return format.ReportingProfile() }

// Query is the report filter: the date range, plus the store when one is
// configured.
func (j *Reporting) Query() url.Values {
	q := url.Values{
		"from": {j.cfg.From},
		"to":   {j.cfg.To},
	}
	if j.cfg.HasStoreFilter() {
		q.Set("storeLocationId", j.cfg.StoreLocationID)
	}
	return q
}

func (j *Reporting) Iterate(ctx context.Context, vu engine.VU) {
	query := j.Query()
	for _, r := range reports {
		res := j.client.Do(ctx, vu, Request{
			Name:   r.name,
			Method: http.MethodGet,
			Path:   r.path,
			Query:  query,
			Tags:   map[string]string{engine.TagEndpoint: r.endpoint},
		})
		if ctx.Err() != nil {
			return
		}
		j.client.Check(vu, r.check, res.Status == http.StatusOK)
	}
	pause(ctx, reportingEndPause)
}
