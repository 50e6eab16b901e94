package commands

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/vbsession/internal/app"
)

// envPrefix marks the variables read into the config.
// VBSESSION_REMEMBER__STORAGE sets remember.storage.
const envPrefix = "VBSESSION_"

// loadConfig builds the config from layered sources. Later layers override
// earlier ones: TOML file, VBSESSION_ variables, command line flags. Fields no
// layer sets get their defaults before validation.
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	vars := env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: envKey,
		EnvironFunc:   environFunc,
	})
	if err := k.Load(vars, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(extractAndTransformFlags(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// envKey maps VBSESSION_BACKEND__READY_TIMEOUT to backend.ready_timeout.
func envKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ToLower(strings.ReplaceAll(key, "__", ".")), value
}

// flagKey maps --backend--base-url to backend.base_url.
func flagKey(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "--", "."), "-", "_")
}

// extractAndTransformFlags collects the explicitly set config flags of cmd and
// its parents, keyed like the config file.
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		// Flag defaults must not shadow the file or the environment.
		if !cmd.IsSet(name) || !isConfigFlag(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			values[flagKey(name)] = value
		}
	}
	return values
}

// isConfigFlag reports whether a flag maps onto the config structure. Command
// inputs such as --password never enter the config map.
func isConfigFlag(name string) bool {
	switch name {
	case "log-level", "log-format":
		return true
	}
	return strings.Contains(name, "--")
}
