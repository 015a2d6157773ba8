package logger

import (
	"io"
	"os"
	"strconv"
)

// envPrefix namespaces the parser's logging variables. The bare LOG_* names
// are still read so shared deployment manifests keep working.
const envPrefix = "TWPARSER_"

// Rotation sizes the lumberjack file written outside the local environment.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// EnvConfig is the logging setup the parser binaries read at startup.
type EnvConfig struct {
	Config

	Environment string // local, dev, prod
	File        string
	FileOnly    bool
	Rotation    Rotation
}

// Local reports whether logs stay on stdout only.
func (c *EnvConfig) Local() bool {
	return c.Environment == "" || c.Environment == "local"
}

// LoadFromEnv reads TWPARSER_LOG_* variables, falling back to LOG_*.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Config: Config{
			Level:       envString("LOG_LEVEL", "info"),
			Format:      envString("LOG_FORMAT", "json"),
			ServiceName: envString("SERVICE_NAME", "twparser"),
		},
		Environment: envString("APP_ENV", "local"),
		File:        envString("LOG_FILE", "/var/log/twparser/parser.log"),
		FileOnly:    envBool("LOG_FILE_ONLY", false),
		Rotation: Rotation{
			MaxSizeMB:  envInt("LOG_MAX_SIZE", 100),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: envInt("LOG_MAX_AGE", 14),
			Compress:   envBool("LOG_COMPRESS", true),
		},
	}
}

func lookupEnv(name string) (string, bool) {
	if v := os.Getenv(envPrefix + name); v != "" {
		return v, true
	}
	if v := os.Getenv(name); v != "" {
		return v, true
	}
	return "", false
}

func envString(name, def string) string {
	if v, ok := lookupEnv(name); ok {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	v, ok := lookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(name string, def int) int {
	v, ok := lookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// writers picks stdout, the rotating file, or both.
func (c *EnvConfig) writers() (io.Writer, io.Closer) {
	if c.Output != nil {
		return c.Output, nil
	}
	if c.Local() || c.File == "" {
		return os.Stdout, nil
	}
	file := newRotatingFile(c.File, c.Rotation)
	if c.FileOnly {
		return file, file
	}
	return io.MultiWriter(os.Stdout, file), file
}
