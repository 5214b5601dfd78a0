package config

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/classwiz/pkg/errors"
)

// readFile merges a YAML config file into v after expanding ${VAR}
// references.
func readFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
			WithDetail("file", path)
	}

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
			WithDetail("file", path)
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	f, err := os.Create(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create config file").
			WithDetail("file", path)
	}
	if err := c.Dump(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close config file").
			WithDetail("file", path)
	}
	return nil
}

// Dump writes the configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal YAML")
	}
	return enc.Close()
}

func lookupEnv(key string) (string, bool) {
	name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	return os.LookupEnv(name)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
