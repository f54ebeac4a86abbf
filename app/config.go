package clustr

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// API is the REST base URL including the /api prefix.
	API struct {
		BaseURL string `mapstructure:"base_url" validate:"required,url"`
		// Timeout applies to every REST call.
		Timeout time.Duration `validate:"required"`
	}
	// Socket is the live channel websocket URL.
	Socket struct {
		URL string `mapstructure:"url" validate:"required,url"`
	}
	SQLite struct {
		// File is the path to the local cache database file.
		File string `validate:"required"`
	}
	Debounce struct {
		// Category is the refetch delay after a category change.
		Category time.Duration `validate:"required"`
		// Search is the refetch delay after a search edit.
		Search time.Duration `validate:"required"`
	}
	valid bool
}

// LoadConfig loads the configuration from .env, config.yaml, and environment
// variables, in increasing order of precedence. Invalid values are deferred
// to Validate.
func LoadConfig() (*Config, error) {
	// A missing .env file is fine; the defaults cover local development.
	godotenv.Load()

	config := &Config{}
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("api.base_url", "http://localhost:5001/api")
	viper.SetDefault("api.timeout", "15s")
	viper.SetDefault("socket.url", "ws://localhost:5001/ws")
	viper.SetDefault("sqlite.file", "./clustr.db")
	viper.SetDefault("debounce.category", "100ms")
	viper.SetDefault("debounce.search", "300ms")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ""
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errors.Translate(trans)

	var sb strings.Builder
	for v := range maps.Values(translated) {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
