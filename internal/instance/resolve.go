package instance

import "github.com/matheus3301/wppcrm/internal/config"

// Resolve determines the active instance name using precedence:
// 1. flagOverride (--instance flag)
// 2. cfg.DefaultInstance (file or WPPCRM_INSTANCE)
// 3. config.DefaultInstance
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultInstance != "" {
		return cfg.DefaultInstance
	}
	return config.DefaultInstance
}
