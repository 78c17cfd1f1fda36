package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taxline.yml.
type Config struct {
	Firm struct {
		Name string `yaml:"name"`
	} `yaml:"firm"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Notifications struct {
		Mail MailConfig `yaml:"mail"`
	} `yaml:"notifications"`
	Storage struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"storage"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one audit event subscriber.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// MailConfig configures the SMTP notifier. Mail delivery is disabled
// when Host is empty.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tl firm config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Firm.Name == "" {
		return fmt.Errorf("config.firm.name is required")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["Admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include Admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	if c.Notifications.Mail.Host != "" {
		if c.Notifications.Mail.Port == 0 {
			return fmt.Errorf("config.notifications.mail.port is required when host is set")
		}
		if c.Notifications.Mail.From == "" {
			return fmt.Errorf("config.notifications.mail.from is required when host is set")
		}
	}
	if c.Storage.Endpoint != "" && c.Storage.Bucket == "" {
		return fmt.Errorf("config.storage.bucket is required when endpoint is set")
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
	return filepath.Join(workspace, "taxline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(firmName string) string {
	return fmt.Sprintf(defaultTemplate, firmName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a firm.
func Default(firmName string) *Config {
	var cfg Config
	cfg.Firm.Name = firmName
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, firmName))).Decode(&cfg)
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

const defaultTemplate = `firm:
  name: %s

rbac:
  roles:
    Admin:
      description: "Full administrative access"
      permissions:
        - project.create
        - project.update
        - project.status.set
        - project.lock
        - project.archive
        - project.start
        - project.finish
        - invoice.update
        - comment.add
        - document.upload
        - document.read
        - client.manage
        - staff.manage
        - apikey.manage
        - events.read
    Partner:
      description: "Signs off engagements and invoices"
      permissions:
        - project.create
        - project.update
        - project.status.set
        - project.lock
        - project.archive
        - project.start
        - project.finish
        - invoice.update
        - comment.add
        - document.upload
        - document.read
        - client.manage
        - events.read
    Manager:
      description: "Runs engagements day to day"
      permissions:
        - project.create
        - project.update
        - project.status.set
        - project.lock
        - project.archive
        - project.start
        - project.finish
        - invoice.update
        - comment.add
        - document.upload
        - document.read
        - client.manage
        - events.read
    Senior:
      description: "Reviews preparer work"
      permissions:
        - project.update
        - project.status.set
        - project.start
        - project.finish
        - comment.add
        - document.upload
        - document.read
        - events.read
    Staff:
      description: "Prepares engagements"
      permissions:
        - project.update
        - project.status.set
        - project.start
        - comment.add
        - document.upload
        - document.read
    Dev:
      description: "System integration access"
      permissions:
        - project.create
        - project.update
        - project.status.set
        - project.lock
        - project.archive
        - project.start
        - project.finish
        - invoice.update
        - comment.add
        - document.upload
        - document.read
        - client.manage
        - staff.manage
        - apikey.manage
        - events.read

notifications:
  mail:
    host: ""
    port: 587
    username: ""
    password: ""
    from: ""

storage:
  endpoint: ""
  access_key: ""
  secret_key: ""
  bucket: ""
  use_ssl: false
`
