// Copyright 2024 Juca Crispim <juca@poraodojuca.net>

// This file is part of tupi-envdump.

// tupi-envdump is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// tupi-envdump is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with tupi-envdump. If not, see <http://www.gnu.org/licenses/>.

// Package config loads the envdump configuration from a yaml file, the
// environment (ENVDUMP_ prefix) and command line flags.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/jucacrispim/tupi-envdump/internal/diag"
	"github.com/jucacrispim/tupi-envdump/internal/gateway"
	"github.com/jucacrispim/tupi-envdump/internal/page"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix  = "ENVDUMP"
	ConfigName = "envdump"
)

var ConfigPaths = []string{".", "/etc/envdump"}

var InvalidConfigError = errors.New("[tupi-envdump] Invalid config")

type Config struct {
	Render  RenderConfig  `yaml:"render" mapstructure:"render"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Gateway GatewayConfig `yaml:"gateway" mapstructure:"gateway"`
	FCGI    FCGIConfig    `yaml:"fcgi" mapstructure:"fcgi"`
}

type RenderConfig struct {
	Title         string `yaml:"title"`
	Raw           bool   `yaml:"raw"`
	MaxFormMemory int64  `yaml:"max-form-memory" mapstructure:"max-form-memory"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	PagePath        string        `yaml:"page-path" mapstructure:"page-path"`
	CGIPath         string        `yaml:"cgi-path" mapstructure:"cgi-path"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

type GatewayConfig struct {
	Dir            string        `yaml:"dir"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodySize    int64         `yaml:"max-body-size" mapstructure:"max-body-size"`
	AllowedMethods []string      `yaml:"allowed-methods" mapstructure:"allowed-methods"`
	InheritEnv     []string      `yaml:"inherit-env" mapstructure:"inherit-env"`
	// Interpreters maps an extension without the leading dot, like "py",
	// to the program that runs the scripts with that extension.
	Interpreters map[string]string `yaml:"interpreters"`
	MaxInFlight  int64             `yaml:"max-in-flight" mapstructure:"max-in-flight"`
	SpawnRate    float64           `yaml:"spawn-rate" mapstructure:"spawn-rate"`
	SpawnBurst   int               `yaml:"spawn-burst" mapstructure:"spawn-burst"`
}

type FCGIConfig struct {
	Listen string `yaml:"listen"`
}

// SetDefaults registers the default value of every key in v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("render.title", page.DefaultTitle)
	v.SetDefault("render.raw", false)
	v.SetDefault("render.max-form-memory", int64(diag.DefaultMaxFormMemory))

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.page-path", "/envdump")
	v.SetDefault("server.cgi-path", "/cgi-bin/")
	v.SetDefault("server.shutdown-timeout", 5*time.Second)

	v.SetDefault("gateway.dir", "")
	v.SetDefault("gateway.timeout", gateway.DefaultTimeout)
	v.SetDefault("gateway.max-body-size", int64(gateway.DefaultMaxBodySize))
	v.SetDefault("gateway.allowed-methods", gateway.DefaultAllowedMethods)
	v.SetDefault("gateway.inherit-env", gateway.DefaultInheritEnv)
	v.SetDefault("gateway.max-in-flight", int64(0))
	v.SetDefault("gateway.spawn-rate", 0.0)
	v.SetDefault("gateway.spawn-burst", 1)

	v.SetDefault("fcgi.listen", "")
}

// New returns a viper instance with the defaults and the environment
// lookup in place. When cfgFile is empty the config file is searched in
// ConfigPaths.
func New(cfgFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, p := range ConfigPaths {
			v.AddConfigPath(p)
		}
	}
	return v
}

// BindFlags makes flags override the config keys with the same name.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || !strings.Contains(f.Name, ".") {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return errors.Wrap(err, "binding flags")
}

// Load reads the config file, if any, and returns the validated config.
// A missing config file is not an error unless it was explicitly set.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config")
		}
	}
	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.Wrap(InvalidConfigError, "server.addr is empty")
	}
	if !strings.HasPrefix(c.Server.PagePath, "/") {
		return errors.Wrapf(InvalidConfigError, "server.page-path %q must start with /", c.Server.PagePath)
	}
	if !strings.HasPrefix(c.Server.CGIPath, "/") {
		return errors.Wrapf(InvalidConfigError, "server.cgi-path %q must start with /", c.Server.CGIPath)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.Wrap(InvalidConfigError, "server.shutdown-timeout must be positive")
	}
	if c.Render.MaxFormMemory <= 0 {
		return errors.Wrap(InvalidConfigError, "render.max-form-memory must be positive")
	}
	if c.Gateway.Timeout <= 0 {
		return errors.Wrap(InvalidConfigError, "gateway.timeout must be positive")
	}
	if c.Gateway.MaxBodySize <= 0 {
		return errors.Wrap(InvalidConfigError, "gateway.max-body-size must be positive")
	}
	if c.Gateway.MaxInFlight < 0 || c.Gateway.SpawnRate < 0 {
		return errors.Wrap(InvalidConfigError, "gateway limits can not be negative")
	}
	for ext := range c.Gateway.Interpreters {
		if ext == "" || strings.Contains(ext, ".") {
			return errors.Wrapf(InvalidConfigError, "bad interpreter extension %q", ext)
		}
	}
	if c.Gateway.Dir != "" {
		info, err := os.Stat(c.Gateway.Dir)
		if err != nil {
			return errors.Wrap(err, "gateway.dir")
		}
		if !info.IsDir() {
			return errors.Wrapf(InvalidConfigError, "gateway.dir %s is not a directory", c.Gateway.Dir)
		}
	}
	return nil
}

// GatewayConfig returns the gateway settings mounted at prefix.
func (c *Config) GatewayConfig(prefix string) gateway.Config {
	interpreters := make(map[string]string, len(c.Gateway.Interpreters))
	for ext, program := range c.Gateway.Interpreters {
		interpreters["."+ext] = program
	}
	return gateway.Config{
		Dir:            c.Gateway.Dir,
		Prefix:         prefix,
		Timeout:        c.Gateway.Timeout,
		MaxBodySize:    c.Gateway.MaxBodySize,
		AllowedMethods: c.Gateway.AllowedMethods,
		InheritEnv:     c.Gateway.InheritEnv,
		Interpreters:   interpreters,
		MaxInFlight:    c.Gateway.MaxInFlight,
		SpawnRate:      c.Gateway.SpawnRate,
		SpawnBurst:     c.Gateway.SpawnBurst,
	}
}

func (c *Config) Renderer() page.Renderer {
	return page.Renderer{Title: c.Render.Title, Raw: c.Render.Raw}
}

// Dump returns the settings of v as yaml. Durations are written in their
// string form so the output can be read back as a config file.
func Dump(v *viper.Viper) ([]byte, error) {
	out, err := yaml.Marshal(readable(v.AllSettings()))
	return out, errors.Wrap(err, "encoding config")
}

func readable(settings map[string]any) map[string]any {
	for k, value := range settings {
		switch val := value.(type) {
		case time.Duration:
			settings[k] = val.String()
		case map[string]any:
			settings[k] = readable(val)
		}
	}
	return settings
}
