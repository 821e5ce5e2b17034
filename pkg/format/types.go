package format

// Profile is the declarative load shape of a run: how many VUs over which
// stages, and which thresholds decide pass or fail.
type Profile struct {
	Name         string              `yaml:"name" json:"name" toml:"name"`
	StartVUs     int                 `yaml:"start_vus,omitempty" json:"start_vus,omitempty" toml:"start_vus"`
	Stages       []Stage             `yaml:"stages" json:"stages" toml:"stages"`
	GracefulStop string              `yaml:"graceful_stop,omitempty" json:"graceful_stop,omitempty" toml:"graceful_stop"`
	HTTPTimeout  string              `yaml:"http_timeout,omitempty" json:"http_timeout,omitempty" toml:"http_timeout"`
	Thresholds   map[string][]string `yaml:"thresholds,omitempty" json:"thresholds,omitempty" toml:"thresholds"`
	EventBuffer  int                 `yaml:"event_buffer,omitempty" json:"event_buffer,omitempty" toml:"event_buffer"`
}

type Stage struct {
	Duration string `yaml:"duration" json:"duration" toml:"duration"`
	Target   int    `yaml:"target" json:"target" toml:"target"`
}
