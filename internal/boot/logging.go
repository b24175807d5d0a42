package boot

import (
	"io"
	"os"

	"github.com/labstack/gommon/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logLevels = map[string]log.Lvl{
	"debug": log.DEBUG,
	"info":  log.INFO,
	"warn":  log.WARN,
	"error": log.ERROR,
	"off":   log.OFF,
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (c *Config) LogLevel() log.Lvl {
	if lvl, ok := logLevels[c.Log.Level]; ok {
		return lvl
	}
	return log.INFO
}

// LogOutput is stdout, teed into a rotated file when LOG_FILE is set. The
// returned closer releases the file.
func (c *Config) LogOutput() (io.Writer, io.Closer) {
	if c.Log.File == "" {
		return os.Stdout, nopCloser{}
	}
	rotated := &lumberjack.Logger{
		Filename:   c.Log.File,
		MaxSize:    c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, rotated), rotated
}

// ConfigureLogging points the global logger at the configured level and output.
func ConfigureLogging(config *Config) io.Closer {
	out, closer := config.LogOutput()
	log.SetLevel(config.LogLevel())
	log.SetOutput(out)
	return closer
}
