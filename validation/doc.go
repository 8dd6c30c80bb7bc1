// Package validation checks configuration structs with go-playground
// validator tags and reports failures as *errors.AppError values.
//
//	type WatchConfig struct {
//	    WaitTime  time.Duration `mapstructure:"wait_time" validate:"gte=0"`
//	    RateLimit float64       `mapstructure:"rate_limit" validate:"gt=0"`
//	}
//	err := validation.Validate(cfg)
package validation
