package session

import "github.com/tupski/wa-monitor/internal/config"

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. WAMON_SESSION, from the environment or a .env file
// 3. config.toml default_session
// 4. "main"
func Resolve(flagOverride string) string {
	cfg, err := config.LoadOrDefault(ConfigPath())
	if err != nil {
		cfg = config.Defaults()
	}
	config.ApplyEnv(cfg, ".")
	return ResolveFrom(flagOverride, cfg)
}

// ResolveFrom applies the same precedence to an already loaded config.
func ResolveFrom(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
