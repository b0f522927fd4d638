package config

import "go.uber.org/fx"

// Module provides the startup *Config and the Source the orchestrator
// re-reads on every tick. Placeholders are expanded from the process env.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(func() EnvironmentExpander { return NewOsEnvironmentExpander() }),
)
