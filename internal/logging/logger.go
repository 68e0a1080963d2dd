package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/2beens/stridewatch/pkg"
)

// rotation of the service log file
const (
	logFileMaxSizeMB  = 20
	logFileMaxBackups = 10
	logFileMaxAgeDays = 90
)

type LoggerSetupParams struct {
	LogFileName      string
	LogToStdout      bool
	LogLevel         string
	LogFormatJSON    bool
	Environment      string
	SentryEnabled    bool
	SentryDSN        string
	SentryServerName string
	// ExtraHooks are added after the sentry hook, e.g. the rolling event log
	ExtraHooks []logrus.Hook
}

func Setup(params LoggerSetupParams) {
	if params.LogFormatJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	logrus.SetLevel(GetLevel(params.LogLevel))

	if params.SentryEnabled {
		if err := setupSentry(params); err != nil {
			logrus.Errorf("logging: sentry init: %s", err)
		} else {
			logrus.Infoln("logging: sentry hook added")
		}
	}
	for _, hook := range params.ExtraHooks {
		logrus.AddHook(hook)
	}

	logrus.SetOutput(logOutput(params.LogFileName, params.LogToStdout))
}

func setupSentry(params LoggerSetupParams) error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              params.SentryDSN,
		Environment:      params.Environment,
		ServerName:       params.SentryServerName,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		return err
	}
	logrus.AddHook(NewSentryHook([]logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
	}))
	return nil
}

// logOutput picks stdout, the rotating file, or both.
func logOutput(fileName string, alsoStdout bool) io.Writer {
	if fileName == "" {
		return os.Stdout
	}
	if filepath.Ext(fileName) != ".log" {
		fileName += ".log"
	}

	rotating := &lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
		Compress:   true,
	}
	if alsoStdout {
		return pkg.NewCombinedWriter(os.Stdout, rotating)
	}
	return rotating
}

// GetLevel maps the configured level name, unknown names fall back to info.
func GetLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
