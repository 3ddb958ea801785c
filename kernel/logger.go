// Structured logging, adapted from the import-side log setup this package
// started from: a root logrus logger, optional JSON formatting, optional
// file output with lumberjack rotation, and a per-component child logger
// via NewCompLogger so every package/task tags its own log lines.

package kernel

import (
	"os"
	"path"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	loggerConfigUseJSONDefault         = false
	loggerConfigLevelDefault           = "info"
	loggerConfigDisableSrcFileDefault  = false
	loggerConfigLogFileDefault         = "" // i.e. stderr
	loggerConfigLogFileMaxSizeMBDefault    = 10
	loggerConfigLogFileMaxBackupNumDefault = 1

	loggerDefaultLevel    = logrus.InfoLevel
	loggerTimestampFormat = time.RFC3339
	loggerComponentField  = "comp"
)

// CollectableLogger wraps logrus.Logger with a cached debug-enabled flag so
// hot paths (tick handler, dispatch loop) can skip formatting debug info
// without a level comparison each time.
type CollectableLogger struct {
	logrus.Logger
	IsEnabledForDebug bool
}

func (log *CollectableLogger) SetLevel(level logrus.Level) {
	log.Logger.SetLevel(level)
	log.IsEnabledForDebug = log.IsLevelEnabled(logrus.DebugLevel)
}

// LoggerConfig is the ambient logging config, loaded the same way as
// KernelConfig (see config.go).
type LoggerConfig struct {
	UseJSON             bool   `yaml:"use_json"`
	Level               string `yaml:"level"`
	DisableSrcFile      bool   `yaml:"disable_src_file"`
	LogFile             string `yaml:"log_file"`
	LogFileMaxSizeMB    int    `yaml:"log_file_max_size_mb"`
	LogFileMaxBackupNum int    `yaml:"log_file_max_backup_num"`
}

func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		UseJSON:             loggerConfigUseJSONDefault,
		Level:               loggerConfigLevelDefault,
		DisableSrcFile:      loggerConfigDisableSrcFileDefault,
		LogFile:             loggerConfigLogFileDefault,
		LogFileMaxSizeMB:    loggerConfigLogFileMaxSizeMBDefault,
		LogFileMaxBackupNum: loggerConfigLogFileMaxBackupNumDefault,
	}
}

var logTextFormatter = &logrus.TextFormatter{
	DisableColors:   true,
	FullTimestamp:   true,
	TimestampFormat: loggerTimestampFormat,
}

var logJSONFormatter = &logrus.JSONFormatter{
	TimestampFormat: loggerTimestampFormat,
}

var RootLogger = &CollectableLogger{
	Logger: logrus.Logger{
		Out:          os.Stderr,
		Formatter:    logTextFormatter,
		Level:        loggerDefaultLevel,
		ReportCaller: true,
	},
}

func GetRootLogger() *CollectableLogger { return RootLogger }

// SetLogger applies a LoggerConfig to RootLogger; nil selects the defaults.
func SetLogger(cfg *LoggerConfig) error {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		RootLogger.SetLevel(level)
	}
	if cfg.UseJSON {
		RootLogger.SetFormatter(logJSONFormatter)
	} else {
		RootLogger.SetFormatter(logTextFormatter)
	}
	RootLogger.SetReportCaller(!cfg.DisableSrcFile)

	switch cfg.LogFile {
	case "stderr", "":
		RootLogger.SetOutput(os.Stderr)
	case "stdout":
		RootLogger.SetOutput(os.Stdout)
	default:
		logDir := path.Dir(cfg.LogFile)
		if _, err := os.Stat(logDir); err != nil {
			if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
				return err
			}
		}
		RootLogger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileMaxBackupNum,
		})
	}
	return nil
}

// NewCompLogger returns a child logger tagging every entry with the
// component name, e.g. "scheduler", "timer", "hoststats".
func NewCompLogger(compName string) *logrus.Entry {
	return RootLogger.WithField(loggerComponentField, compName)
}
