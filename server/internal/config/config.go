package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Config is the configuration for the gateway.
type Config struct {
	Admin       Admin        `yaml:"admin"`
	VIPs        []VIP        `yaml:"vips"`
	TicketSeeds *TicketSeeds `yaml:"ticketSeeds"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Admin.validate(); err != nil {
		return err
	}
	if len(c.VIPs) == 0 {
		return fmt.Errorf("at least one vip must be set")
	}
	names := map[string]struct{}{}
	for i := range c.VIPs {
		v := &c.VIPs[i]
		if err := v.validate(); err != nil {
			return fmt.Errorf("vip %q: %s", v.Name, err)
		}
		if _, ok := names[v.Name]; ok {
			return fmt.Errorf("duplicate vip name %q", v.Name)
		}
		names[v.Name] = struct{}{}
	}
	if c.TicketSeeds != nil {
		if err := c.TicketSeeds.validate(); err != nil {
			return fmt.Errorf("ticketSeeds: %s", err)
		}
	}

	return nil
}

// Admin is the configuration for the internal-only admin HTTP server.
type Admin struct {
	Port int `yaml:"port"`

	Auth *AdminAuth `yaml:"auth"`
}

func (a *Admin) validate() error {
	if a.Port <= 0 {
		return fmt.Errorf("admin port must be greater than 0")
	}
	if a.Auth != nil {
		if err := a.Auth.validate(); err != nil {
			return fmt.Errorf("auth: %s", err)
		}
	}
	return nil
}

// AdminAuth configures bearer token validation for the mutating admin
// endpoints. Exactly one key source must be set.
type AdminAuth struct {
	PublicKeyPath string `yaml:"publicKeyPath"`
	JWKSURL       string `yaml:"jwksUrl"`
}

func (a *AdminAuth) validate() error {
	if (a.PublicKeyPath == "") == (a.JWKSURL == "") {
		return fmt.Errorf("exactly one of publicKeyPath and jwksUrl must be set")
	}
	return nil
}

// VIP is the configuration for one served endpoint.
type VIP struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	Upstream string `yaml:"upstream"`

	// Strict aborts ticket key rotation for the whole VIP on the first
	// per-certificate failure.
	Strict bool `yaml:"strict"`

	SessionCache SessionCache  `yaml:"sessionCache"`
	Certificates []Certificate `yaml:"certificates"`
}

func (v *VIP) validate() error {
	if v.Name == "" {
		return fmt.Errorf("name must be set")
	}
	if v.Port <= 0 {
		return fmt.Errorf("port must be greater than 0")
	}
	if v.Upstream == "" {
		return fmt.Errorf("upstream must be set")
	}
	if len(v.Certificates) == 0 {
		return fmt.Errorf("at least one certificate must be set")
	}
	for _, c := range v.Certificates {
		if err := c.validate(); err != nil {
			return err
		}
	}
	if err := v.SessionCache.validate(); err != nil {
		return fmt.Errorf("sessionCache: %s", err)
	}
	return nil
}

// SessionCache configures stateful session resumption for a VIP.
type SessionCache struct {
	Enabled  bool `yaml:"enabled"`
	Capacity int  `yaml:"capacity"`
}

func (s *SessionCache) validate() error {
	if s.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	return nil
}

// Certificate is one certificate to serve on a VIP.
type Certificate struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`

	// Default marks the certificate as the fallback for handshakes with a
	// missing or unmatched server name.
	Default bool `yaml:"default"`

	// Overwrite lets the certificate take over domain names already
	// registered by an earlier certificate.
	Overwrite bool `yaml:"overwrite"`

	DisableSessionTickets bool `yaml:"disableSessionTickets"`
}

func (c *Certificate) validate() error {
	if c.CertFile == "" {
		return fmt.Errorf("certFile must be set")
	}
	if c.KeyFile == "" {
		return fmt.Errorf("keyFile must be set")
	}
	return nil
}

// TicketSeeds configures session ticket key derivation.
type TicketSeeds struct {
	// File is the path of the YAML seed file.
	File string `yaml:"file"`

	// Watch reloads the seed file on change.
	Watch bool `yaml:"watch"`
}

func (t *TicketSeeds) validate() error {
	if t.File == "" {
		return fmt.Errorf("file must be set")
	}
	return nil
}

// Parse parses a configuration file at the given path and returns a Config
// struct.
func Parse(configPath string) (*Config, error) {
	klog.V(2).Infof("parsing configuration file; path=%q", configPath)

	var c Config
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: parse: read: %s", err)
	}

	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse: unmarshal: %s", err)
	}

	klog.V(2).Infof("parsed configuration file\n%+v", c)
	return &c, nil
}
