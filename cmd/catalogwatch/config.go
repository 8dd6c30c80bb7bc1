package main

import (
	"fmt"

	"github.com/kbukum/catalogwatch/config"
	"github.com/kbukum/catalogwatch/discovery"
	"github.com/kbukum/catalogwatch/discovery/consul"
	"github.com/kbukum/catalogwatch/observability"
	"github.com/kbukum/catalogwatch/server"
)

// AgentConfig is the full configuration of the catalogwatch agent.
type AgentConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Discovery     discovery.Config     `yaml:"discovery" mapstructure:"discovery"`
	Consul        consul.Config        `yaml:"consul" mapstructure:"consul"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// ApplyDefaults fills every section. A registration without an explicit
// port advertises the HTTP server's port, where /health is served.
func (c *AgentConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "catalogwatch"
	}
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Consul.ApplyDefaults()
	if c.Discovery.Registration.ServicePort == 0 && c.Server.Enabled {
		c.Discovery.Registration.ServicePort = c.Server.Port
	}
	if c.Discovery.Registration.ServiceName == "" {
		c.Discovery.Registration.ServiceName = c.Name
	}
	c.Discovery.ApplyDefaults()
}

// Validate checks every section.
func (c *AgentConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if c.Server.Enabled {
		if err := c.Server.Validate(); err != nil {
			return err
		}
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if c.Discovery.Enabled && c.Discovery.Provider == "consul" {
		if err := c.Consul.Validate(); err != nil {
			return fmt.Errorf("consul: %w", err)
		}
	}
	return nil
}
