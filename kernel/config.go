// Top-level configuration, loaded from a YAML file the way the importer
// this package started from does:
//
//  kernel_config:
//    num_cores: 1
//    enable_smp: false
//    tick_period: 1ms
//  log_config:
//    ...
//  tasks:
//    - name: producer
//      priority: 10
//      ...

package kernel

import (
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const kernelConfigSectionName = "kernel_config"

// RootConfig is the document-level shape: the kernel's own settings plus
// the statically declared task table.
type RootConfig struct {
	Kernel *KernelConfig `yaml:"kernel_config"`
	Logger *LoggerConfig `yaml:"log_config"`
	Tasks  []*TaskConfig `yaml:"tasks"`
}

func DefaultRootConfig() *RootConfig {
	return &RootConfig{
		Kernel: DefaultKernelConfig(),
		Logger: DefaultLoggerConfig(),
	}
}

// LoadConfig reads and parses a RootConfig from cfgFile, or from buf
// directly when non-nil (used by tests). Missing sections are filled in
// with defaults.
func LoadConfig(cfgFile string, buf []byte) (*RootConfig, error) {
	if buf == nil {
		f, err := os.Open(cfgFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
		}
	}

	cfg := DefaultRootConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
	}
	if cfg.Kernel == nil {
		cfg.Kernel = DefaultKernelConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultLoggerConfig()
	}
	return cfg, nil
}

// ParseSize parses a human-readable byte size (e.g. "4KiB", "512") the same
// way task stack sizes are parsed; exposed for config sections (message
// queue buffers, etc.) that also take size strings.
func ParseSize(s string) (int64, error) {
	return units.RAMInBytes(s)
}
