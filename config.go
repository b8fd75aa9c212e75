package assets

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DeployConfig carries the container-deployment settings of the original
// tool's config file. The module never launches containers itself; the
// struct exists so the external launch layer receives explicit
// configuration instead of reading process-wide state.
type DeployConfig struct {
	// GPUType is the GPU class requested for the container, e.g. "t4".
	GPUType string `mapstructure:"gpu_type" json:"gpu_type"`

	// CPU and Memory are optional resource requests; empty means the
	// platform default.
	CPU    string `mapstructure:"cpu" json:"cpu,omitempty"`
	Memory string `mapstructure:"memory" json:"memory,omitempty"`

	// MaxContainers caps concurrent container instances.
	MaxContainers int `mapstructure:"max_containers" json:"max_containers"`

	// ScaledownWindow is the idle period, in seconds, before a container
	// is reclaimed.
	ScaledownWindow int `mapstructure:"scaledown_window" json:"scaledown_window"`

	// Timeout is the container execution timeout in seconds.
	Timeout int `mapstructure:"timeout" json:"timeout"`

	// MaxInputs caps concurrent requests per container.
	MaxInputs int `mapstructure:"max_inputs" json:"max_inputs"`

	// VolumeName is the persistent volume holding the asset store.
	VolumeName string `mapstructure:"volume_name" json:"volume_name"`

	// VolumeMount is where the volume is mounted inside the container.
	VolumeMount string `mapstructure:"volume_mount" json:"volume_mount"`

	// ComfyUIDir is the GUI application's install directory inside the
	// container, used when rendering model search paths.
	ComfyUIDir string `mapstructure:"comfyui_dir" json:"comfyui_dir"`

	// WebHost and WebPort are the GUI's listen address.
	WebHost string `mapstructure:"web_host" json:"web_host"`
	WebPort int    `mapstructure:"web_port" json:"web_port"`
}

// fileConfig is the full on-disk configuration shape.
type fileConfig struct {
	Store struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"store"`
	Registry struct {
		HuggingFaceURL string `mapstructure:"huggingface_url"`
		CivitaiURL     string `mapstructure:"civitai_url"`
	} `mapstructure:"registry"`
	Provision struct {
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"provision"`
	Deploy DeployConfig `mapstructure:"deploy"`
}

// LoadConfig reads configuration from an optional file and the
// environment, returning explicit structs for the provisioning layer and
// the external deployment layer. Environment variables use the COMFY_
// prefix with underscores for nesting, e.g. COMFY_STORE_DIR,
// COMFY_DEPLOY_GPU_TYPE, and override file values.
func LoadConfig(path string) (Config, DeployConfig, error) {
	v := viper.New()

	v.SetDefault("store.dir", "")
	v.SetDefault("registry.huggingface_url", DefaultHuggingFaceURL)
	v.SetDefault("registry.civitai_url", DefaultCivitaiURL)
	v.SetDefault("provision.concurrency", DefaultConcurrency)
	v.SetDefault("deploy.gpu_type", "t4")
	v.SetDefault("deploy.max_containers", 1)
	v.SetDefault("deploy.scaledown_window", 30)
	v.SetDefault("deploy.timeout", 3200)
	v.SetDefault("deploy.max_inputs", 10)
	v.SetDefault("deploy.volume_name", "comfy-models")
	v.SetDefault("deploy.volume_mount", "/root/comfy-storage")
	v.SetDefault("deploy.comfyui_dir", "/root/comfy/ComfyUI")
	v.SetDefault("deploy.web_host", "0.0.0.0")
	v.SetDefault("deploy.web_port", 8000)

	v.SetEnvPrefix("COMFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, DeployConfig{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("comfy-assets")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing default config file is fine; env and defaults apply.
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, DeployConfig{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Config{}, DeployConfig{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg := Config{
		StoreDir:       fc.Store.Dir,
		HuggingFaceURL: fc.Registry.HuggingFaceURL,
		CivitaiURL:     fc.Registry.CivitaiURL,
		Concurrency:    fc.Provision.Concurrency,
	}
	return cfg, fc.Deploy, nil
}
