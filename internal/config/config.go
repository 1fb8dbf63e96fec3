package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models caretaker.yml, the per-building rulebook: how service-charge
// penalties accrue, how many reminders may be sent, how ticket urgency maps
// to work-order priority, and where activity webhooks go. The active copy is
// stored in the DB per building and imported explicitly.
type Config struct {
	Building struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"building"`
	ServiceCharges struct {
		Penalty struct {
			FlatAmount int64   `yaml:"flat_amount"`
			Percent    float64 `yaml:"percent"`
			GraceDays  int     `yaml:"grace_days"`
			MaxAmount  int64   `yaml:"max_amount"`
		} `yaml:"penalty"`
		Reminders struct {
			MaxReminders int `yaml:"max_reminders"`
		} `yaml:"reminders"`
	} `yaml:"service_charges"`
	Tickets struct {
		// UrgencyPriority maps ticket urgency to the priority of a work
		// order raised from that ticket.
		UrgencyPriority map[string]string `yaml:"urgency_priority"`
	} `yaml:"tickets"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Actions        []string `yaml:"actions"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var validUrgencies = map[string]bool{"Low": true, "Medium": true, "High": true, "Critical": true}
var validPriorities = map[string]bool{"Low": true, "Medium": true, "High": true, "Urgent": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Building.ID == "" {
		return fmt.Errorf("config.building.id is required")
	}
	p := c.ServiceCharges.Penalty
	if p.FlatAmount < 0 || p.MaxAmount < 0 {
		return fmt.Errorf("config.service_charges.penalty amounts must not be negative")
	}
	if p.Percent < 0 || p.Percent > 100 {
		return fmt.Errorf("config.service_charges.penalty.percent must be between 0 and 100")
	}
	if p.GraceDays < 0 {
		return fmt.Errorf("config.service_charges.penalty.grace_days must not be negative")
	}
	if c.ServiceCharges.Reminders.MaxReminders < 0 {
		return fmt.Errorf("config.service_charges.reminders.max_reminders must not be negative")
	}
	for urgency, priority := range c.Tickets.UrgencyPriority {
		if !validUrgencies[urgency] {
			return fmt.Errorf("config.tickets.urgency_priority has unknown urgency %s", urgency)
		}
		if !validPriorities[priority] {
			return fmt.Errorf("config.tickets.urgency_priority maps %s to unknown priority %s", urgency, priority)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caretaker.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(buildingID string) string {
	return fmt.Sprintf(defaultTemplate, buildingID)
}

// Default returns the default Config struct for a building.
func Default(buildingID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, buildingID)), &cfg)
	cfg.Building.ID = buildingID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the workspace config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `building:
  id: %s

service_charges:
  penalty:
    flat_amount: 0
    percent: 5.0
    grace_days: 14
    max_amount: 25000
  reminders:
    max_reminders: 3

tickets:
  urgency_priority:
    Low: Low
    Medium: Medium
    High: High
    Critical: Urgent
`
