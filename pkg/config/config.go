// Package config loads the per-language-pair course settings.
//
// The built-in English to Spanish defaults are embedded; a user file is
// decoded over them, so it only needs the keys it changes.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/japaniel/coursegen/pkg/basket"
	"github.com/japaniel/coursegen/pkg/conflict"
	"github.com/japaniel/coursegen/pkg/coverage"
	"github.com/japaniel/coursegen/pkg/gate"
	"github.com/japaniel/coursegen/pkg/tiling"
	"github.com/japaniel/coursegen/pkg/tokenize"
)

//go:embed default.yaml
var defaultYAML []byte

// Log selects logger output.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Config is the full course configuration.
type Config struct {
	Pair         string `yaml:"pair" validate:"required"`
	Tokenizer    string `yaml:"tokenizer" validate:"oneof=words kagome"`
	IgnoreSpaces bool   `yaml:"ignore_spaces"`
	Workers      int    `yaml:"workers" validate:"min=1,max=256"`
	// TotalSeeds is the expected corpus size for gap analysis; 0 skips the check.
	TotalSeeds int    `yaml:"total_seeds" validate:"min=0"`
	DBPath     string `yaml:"db_path"`
	Log        Log    `yaml:"log"`

	Gate     gate.Rules       `yaml:"gate"`
	Conflict conflict.Rules   `yaml:"conflict"`
	Basket   basket.Config    `yaml:"basket"`
	Coverage coverage.Options `yaml:"coverage"`
}

var validate = validator.New()

// Default returns the embedded configuration.
func Default() *Config {
	c, err := decode(nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded default is invalid: %v", err))
	}
	return c
}

// Load reads path over the embedded defaults. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return decode(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	c, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes data over the embedded defaults.
func Parse(data []byte) (*Config, error) { return decode(data) }

func decode(overlay []byte) (*Config, error) {
	c := &Config{}
	if err := strict(defaultYAML, c); err != nil {
		return nil, err
	}
	if len(overlay) > 0 {
		if err := strict(overlay, c); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func strict(data []byte, into *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// Validate checks field constraints and the basket layout.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return c.Basket.Check()
}

// NewTokenizer builds the configured tokenizer.
func (c *Config) NewTokenizer() (tokenize.Tokenizer, error) {
	return tokenize.New(c.Tokenizer)
}

// Validator returns the tiling validator for the pair.
func (c *Config) Validator() tiling.Validator {
	return tiling.Validator{IgnoreSpaces: c.IgnoreSpaces}
}
