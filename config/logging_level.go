package config

import (
	"sync"

	"go.viam.com/imagequeue/logging"
)

var globalLogger struct {
	// These variables are initialized once at startup. No need for special synchronization.
	logger           logging.Logger
	cmdLineDebugFlag bool

	// The file level can change while serving when the config is reloaded.
	mu        sync.Mutex
	fileLevel logging.Level
}

// InitLoggingSettings initializes the global logging settings.
func InitLoggingSettings(logger logging.Logger, cmdLineDebugFlag bool) {
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	globalLogger.logger = logger
	globalLogger.cmdLineDebugFlag = cmdLineDebugFlag
	globalLogger.fileLevel = logging.INFO
	refreshLogLevelInLock()
	logger.Info("Log level initialized: ", logger.GetLevel())
}

// UpdateFileConfigLogLevel is used to update the level whenever the config file is read. An
// empty or unparseable level means info.
func UpdateFileConfigLogLevel(level string) {
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()

	parsed, err := logging.LevelFromString(level)
	if err != nil {
		parsed = logging.INFO
	}
	globalLogger.fileLevel = parsed
	refreshLogLevelInLock()
}

func refreshLogLevelInLock() {
	if globalLogger.logger == nil {
		return
	}
	newLevel := globalLogger.fileLevel
	if globalLogger.cmdLineDebugFlag {
		// The command line flag wins over the file.
		newLevel = logging.DEBUG
	}

	if globalLogger.logger.GetLevel() == newLevel {
		return
	}
	globalLogger.logger.Info("New log level: ", newLevel)
	globalLogger.logger.SetLevel(newLevel)
	logging.GlobalLogLevel.SetLevel(newLevel.AsZap())
}
