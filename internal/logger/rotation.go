package logger

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig holds lumberjack rotation settings
type RotationConfig struct {
	MaxSize    int // megabytes, 0 disables rotation
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// IsEnabled reports whether size-based rotation is configured
func (r RotationConfig) IsEnabled() bool {
	return r.MaxSize > 0
}

// RotationConfigFromFileOutput extracts rotation settings from the main file output
func RotationConfigFromFileOutput(fo *FileOutput) RotationConfig {
	if fo == nil {
		return RotationConfig{}
	}
	return RotationConfig{
		MaxSize:    fo.MaxSize,
		MaxAge:     fo.MaxAge,
		MaxBackups: fo.MaxRotatedFiles,
		Compress:   fo.Compress,
	}
}

// RotationConfigFromModuleOutput returns module settings, falling back to the main file output
func RotationConfigFromModuleOutput(mo *ModuleOutput, fallback *FileOutput) RotationConfig {
	rc := RotationConfigFromFileOutput(fallback)
	if mo == nil {
		return rc
	}
	if mo.MaxSize > 0 {
		rc.MaxSize = mo.MaxSize
	}
	if mo.MaxAge > 0 {
		rc.MaxAge = mo.MaxAge
	}
	if mo.MaxRotatedFiles > 0 {
		rc.MaxBackups = mo.MaxRotatedFiles
	}
	if mo.Compress != nil {
		rc.Compress = *mo.Compress
	}
	return rc
}

// newFileWriter opens path for appending, wrapped in lumberjack when rotation is enabled
func newFileWriter(path string, rc RotationConfig) (io.WriteCloser, error) {
	if rc.IsEnabled() {
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    rc.MaxSize,
			MaxAge:     rc.MaxAge,
			MaxBackups: rc.MaxBackups,
			Compress:   rc.Compress,
		}, nil
	}
	const filePermissions = 0o600
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermissions)
}
