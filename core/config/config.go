package config

import (
	_ "embed"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

var (
	//go:embed default/config.yaml
	defaultConfigData []byte
)

const (
	ConfigurationName = "config.yaml"
	AppDirName        = "jsh"
)

const (
	ColorAlways = "always"
	ColorAuto   = "auto"
	ColorNever  = "never"
)

type Configuration struct {
	configFs afero.Fs
	dir      string

	HistoryFile     string `json:"history_file"`
	HistoryLimit    int    `json:"history_limit" validate:"gte=-1"`
	ColorPrompt     string `json:"color_prompt" validate:"oneof=always auto never"`
	PromptMaxLength int    `json:"prompt_max_length" validate:"gte=8,lte=256"`
	DebugLog        string `json:"debug_log"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

func (c *Configuration) fs() afero.Fs {
	if c.configFs == nil {
		return afero.NewOsFs()
	}
	return c.configFs
}

// Dir is the directory the configuration was loaded from.
func (c *Configuration) Dir() string {
	return c.dir
}

func (c *Configuration) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.dir, name)
}

// HistoryPath returns the history file, empty if history is disabled.
func (c *Configuration) HistoryPath() string {
	return c.resolve(c.HistoryFile)
}

// OpenDebugLog opens the debug trace in an append only state. When no trace
// is configured the log discards everything.
func (c *Configuration) OpenDebugLog() (*log.Logger, io.Closer, error) {
	if c.DebugLog == "" {
		return log.New(io.Discard, "", 0), io.NopCloser(nil), nil
	}

	fd, err := c.fs().OpenFile(c.resolve(c.DebugLog), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, err
	}
	return log.New(fd, "jsh ", log.LstdFlags), fd, nil
}

// Default returns the built-in configuration rooted at dir.
func Default(fs afero.Fs, dir string) *Configuration {
	out := defaultConfig()
	out.configFs = fs
	out.dir = dir
	return out
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppDirName), nil
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}
