package ai

import "fmt"

// ProviderFactory builds a provider from a validated Config.
type ProviderFactory func(*Config) (AIProvider, error)

// Open validates config and builds a provider with the factory registered for
// config.Provider. Factories are passed in by the caller so this package does
// not import its implementations.
func Open(config *Config, factories map[string]ProviderFactory) (AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	factory, ok := factories[config.Provider]
	if !ok {
		return nil, fmt.Errorf("ai: no implementation registered for provider %q", config.Provider)
	}
	return factory(config)
}
