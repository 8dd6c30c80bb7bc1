// Package config loads service configuration with Viper.
//
// Values come from a YAML file (searched under ./cmd/<service>/ and
// ./config/), an optional .env file, and environment variables. Env vars
// written in UPPER_SNAKE case override nested keys:
// DISCOVERY_STALENESS_THRESHOLD sets discovery.staleness.threshold.
//
//	var cfg AgentConfig
//	err := config.LoadConfig("catalogwatch", &cfg)
package config
