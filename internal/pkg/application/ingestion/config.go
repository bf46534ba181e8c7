package ingestion

import (
	"io"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/mqtt"
	yaml "gopkg.in/yaml.v2"
)

const (
	DefaultArchiveURL = "https://archive-api.open-meteo.com/v1/archive"
	DefaultOpenAQURL  = "https://api.openaq.org/v3"
)

// placeholderAPIKey is the value shipped in sample environment files.
const placeholderAPIKey = "YOUR_API_KEY_HERE"

type Location struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

var DefaultLocations = []Location{
	{Name: "Paris", Latitude: 48.8566, Longitude: 2.3522},
	{Name: "Lyon", Latitude: 45.7640, Longitude: 4.8357},
	{Name: "Marseille", Latitude: 43.2965, Longitude: 5.3698},
	{Name: "Toulouse", Latitude: 43.6047, Longitude: 1.4442},
}

type OpenMeteoConfig struct {
	Enabled    bool          `yaml:"enabled"`
	ArchiveURL string        `yaml:"archiveURL"`
	Interval   time.Duration `yaml:"interval"`
	DaysBack   int           `yaml:"daysBack"`
	Timezone   string        `yaml:"timezone"`
	Locations  []Location    `yaml:"locations"`
}

// OpenAQConfig configures the air quality job. It only runs when an api key
// is set, either here or through OPENAQ_API_KEY.
type OpenAQConfig struct {
	APIKey    string        `yaml:"apiKey"`
	URL       string        `yaml:"url"`
	Interval  time.Duration `yaml:"interval"`
	DaysBack  int           `yaml:"daysBack"`
	Radius    int           `yaml:"radius"`
	Limit     int           `yaml:"limit"`
	Locations []Location    `yaml:"locations"`
}

func (c OpenAQConfig) Enabled() bool {
	return c.APIKey != "" && c.APIKey != placeholderAPIKey
}

type Config struct {
	OpenMeteo OpenMeteoConfig `yaml:"openmeteo"`
	OpenAQ    OpenAQConfig    `yaml:"openaq"`
	MQTT      mqtt.Config     `yaml:"mqtt"`
}

type configFile struct {
	Ingestion Config `yaml:"ingestion"`
}

// LoadConfiguration reads the ingestion section of the service configuration
// and fills in defaults for anything left out.
func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	f := configFile{}
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, err
	}

	cfg := f.Ingestion
	cfg.applyDefaults()

	return &cfg, nil
}

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.OpenMeteo.ArchiveURL == "" {
		c.OpenMeteo.ArchiveURL = DefaultArchiveURL
	}
	if c.OpenMeteo.Interval <= 0 {
		c.OpenMeteo.Interval = time.Hour
	}
	if c.OpenMeteo.DaysBack <= 0 {
		c.OpenMeteo.DaysBack = 7
	}
	if c.OpenMeteo.Timezone == "" {
		c.OpenMeteo.Timezone = "Europe/Paris"
	}
	if len(c.OpenMeteo.Locations) == 0 {
		c.OpenMeteo.Locations = DefaultLocations
	}
	if c.OpenAQ.URL == "" {
		c.OpenAQ.URL = DefaultOpenAQURL
	}
	if c.OpenAQ.Interval <= 0 {
		c.OpenAQ.Interval = time.Hour
	}
	if c.OpenAQ.DaysBack <= 0 {
		c.OpenAQ.DaysBack = 7
	}
	if c.OpenAQ.Radius <= 0 {
		c.OpenAQ.Radius = 25000
	}
	if c.OpenAQ.Limit <= 0 {
		c.OpenAQ.Limit = 100
	}
	if len(c.OpenAQ.Locations) == 0 {
		c.OpenAQ.Locations = DefaultLocations
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ecotrack"
	}
}
