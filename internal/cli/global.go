package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/ticos/ticos-e2e/internal/config"
	ticoslog "github.com/ticos/ticos-e2e/pkg/log"
)

const (
	appName    = "ticos-e2e"
	jsonFormat = "json"
	yamlFormat = "yaml"
)

type GlobalOptions struct {
	ConfigFilePath string
	LogLevel       string
	LogFile        string
	RequestTimeout int
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: "",
		LogLevel:       "",
		LogFile:        "",
		RequestTimeout: 0,
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFilePath, "config", o.ConfigFilePath, fmt.Sprintf("Config file. Defaults to $TICOS_E2E_CONFIG, then %s if it exists, then the environment only.", config.ConfigFile()))
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error).")
	fs.StringVar(&o.LogFile, "log-file", o.LogFile, "Also write logs to this file, rotating it when it grows large.")
	fs.IntVar(&o.RequestTimeout, "request-timeout", o.RequestTimeout, "Timeout in seconds for the whole command (0 - no timeout)")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	if o.ConfigFilePath == "" {
		o.ConfigFilePath = os.Getenv("TICOS_E2E_CONFIG")
	}
	if o.ConfigFilePath == "" {
		if _, err := os.Stat(config.ConfigFile()); err == nil {
			o.ConfigFilePath = config.ConfigFile()
		}
	}
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	if o.RequestTimeout < 0 {
		return fmt.Errorf("request-timeout must be greater than 0")
	}
	if o.ConfigFilePath != "" {
		if _, err := os.Stat(o.ConfigFilePath); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q does not exist", o.ConfigFilePath)
		}
	}
	return nil
}

// Config loads the harness configuration the same way the e2e suites do.
func (o *GlobalOptions) Config() (*config.Config, error) {
	if o.ConfigFilePath != "" {
		return config.NewFromFile(o.ConfigFilePath)
	}
	return config.NewFromEnv()
}

func (o *GlobalOptions) Logger(cfg *config.Config) logrus.FieldLogger {
	level := o.LogLevel
	if level == "" && cfg != nil {
		level = cfg.LogLevel
	}
	logFile := o.LogFile
	if logFile == "" && cfg != nil {
		logFile = cfg.LogFile
	}
	log := ticoslog.InitLogs(level)
	if logFile != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, ticoslog.RotatingFile(logFile)))
	} else {
		log.SetOutput(os.Stderr)
	}
	return ticoslog.WithComponent(log, appName)
}

func (o *GlobalOptions) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.RequestTimeout != 0 {
		return context.WithTimeout(ctx, time.Duration(o.RequestTimeout)*time.Second)
	}
	return ctx, func() {}
}
