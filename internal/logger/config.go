package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel  string                  `yaml:"default_level" mapstructure:"default_level"`
	Timezone      string                  `yaml:"timezone" mapstructure:"timezone"` // "Local", "UTC", or IANA name
	Console       *ConsoleOutput          `yaml:"console" mapstructure:"console"`
	FileOutput    *FileOutput             `yaml:"file_output" mapstructure:"file_output"`
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" mapstructure:"modules"`
	ModuleLevels  map[string]string       `yaml:"module_levels" mapstructure:"module_levels"`
}

// ConsoleOutput represents console logging configuration. Console output is
// text without timestamps.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration. File output is JSON.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Path            string `yaml:"path" mapstructure:"path"`
	MaxSize         int    `yaml:"max_size" mapstructure:"max_size"` // MB before rotation, 0 disables
	MaxAge          int    `yaml:"max_age" mapstructure:"max_age"`   // days
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"max_rotated_files"`
	Compress        bool   `yaml:"compress" mapstructure:"compress"`
	Level           string `yaml:"level" mapstructure:"level"`
}

// ModuleOutput represents per-module output configuration
type ModuleOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	FilePath        string `yaml:"file_path" mapstructure:"file_path"`
	Level           string `yaml:"level" mapstructure:"level"`
	ConsoleAlso     bool   `yaml:"console_also" mapstructure:"console_also"`
	MaxSize         int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAge          int    `yaml:"max_age" mapstructure:"max_age"`
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"max_rotated_files"`
	Compress        *bool  `yaml:"compress,omitempty" mapstructure:"compress"`
}

const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/signalgraph.log"
	DefaultMaxSize         = 50
	DefaultMaxAge          = 14
	DefaultMaxRotatedFiles = 5
)

// applyConfigDefaults fills nil sections. File output stays disabled unless configured.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}
	if cfg.FileOutput != nil && cfg.FileOutput.Path == "" {
		cfg.FileOutput.Path = DefaultLogPath
	}
	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}
}
