package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chriskillpack/sitrep/internal/blip"
	"github.com/chriskillpack/sitrep/internal/hfinference"
	"github.com/chriskillpack/sitrep/internal/openai"
	"github.com/spf13/viper"
)

type Config struct {
	Server  Server  `mapstructure:"server"`
	Log     Log     `mapstructure:"log"`
	Caption Caption `mapstructure:"caption"`
	Report  Report  `mapstructure:"report"`

	// Token is read from HF_TOKEN.
	Token string `mapstructure:"token"`
}

type Server struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Caption struct {
	// Backend is one of "blip", "hfinference" or "llama".
	Backend string `mapstructure:"backend"`

	ModelDir  string           `mapstructure:"model_dir"`
	Library   string           `mapstructure:"library"`
	Threads   int              `mapstructure:"threads"`
	AutoFetch bool             `mapstructure:"auto_fetch"`
	ModelURL  string           `mapstructure:"model_url"`
	Tensors   blip.TensorNames `mapstructure:"tensors"`

	InferenceURL string `mapstructure:"inference_url"`

	LlamaServer string `mapstructure:"llama_server"`
	LlamaSeed   int    `mapstructure:"llama_seed"`
}

type Report struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

const (
	BackendBlip        = "blip"
	BackendHFInference = "hfinference"
	BackendLlama       = "llama"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("log.level", "info")

	v.SetDefault("caption.backend", BackendBlip)
	v.SetDefault("caption.model_dir", "models/blip")
	v.SetDefault("caption.auto_fetch", true)
	v.SetDefault("caption.model_url", blip.DefaultBaseURL)
	v.SetDefault("caption.tensors.pixel_values", blip.DefaultTensorNames.PixelValues)
	v.SetDefault("caption.tensors.vision_output", blip.DefaultTensorNames.VisionOutput)
	v.SetDefault("caption.tensors.input_ids", blip.DefaultTensorNames.InputIDs)
	v.SetDefault("caption.tensors.attention_mask", blip.DefaultTensorNames.AttentionMask)
	v.SetDefault("caption.tensors.encoder_hidden_states", blip.DefaultTensorNames.EncoderHiddenStates)
	v.SetDefault("caption.tensors.logits", blip.DefaultTensorNames.Logits)
	v.SetDefault("caption.inference_url", hfinference.DefaultURL)
	v.SetDefault("caption.llama_server", "http://localhost:8080")
	v.SetDefault("caption.llama_seed", 385480504)

	v.SetDefault("report.base_url", openai.DefaultBaseURL)
	v.SetDefault("report.model", openai.DefaultModel)
	v.SetDefault("report.temperature", openai.DefaultTemperature)
	v.SetDefault("report.timeout", 0)
}

// InitConfig loads filename over the defaults. A missing file is not an
// error, the defaults and environment are used alone. The access token comes
// from HF_TOKEN and any setting can be overridden with SITREP_<SECTION>_<KEY>.
func InitConfig(filename string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("sitrep")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("token", "HF_TOKEN"); err != nil {
		return nil, err
	}

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", filename, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Caption.Backend {
	case BackendBlip, BackendHFInference, BackendLlama:
	default:
		return fmt.Errorf("unknown caption backend %q", c.Caption.Backend)
	}
	if c.Report.Temperature < 0 || c.Report.Temperature > 2 {
		return fmt.Errorf("report temperature %v out of range [0, 2]", c.Report.Temperature)
	}
	return nil
}
