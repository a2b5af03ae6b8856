// Package logging sets up the btclog backend shared by every
// subsystem of the custody daemons. Output goes to stdout and,
// once InitLogRotator is called, to a rotated log file.
package logging

import (
	"github.com/btccom/btccustody/chain"
	"github.com/btccom/btccustody/custody"
	"github.com/btccom/btccustody/fiduciary"
	"github.com/btccom/btccustody/keystore"
	"github.com/btccom/btccustody/registry"
	"github.com/btccom/btccustody/rpcserver"
	"github.com/btccom/btccustody/wallet"
	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// logWriter writes to stdout and to the log rotator once
// it is initialized.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var (
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is nil until InitLogRotator is called.
	logRotator *rotator.Rotator

	mainLog = backendLog.Logger("MAIN")
	wlltLog = backendLog.Logger("WLLT")
	regyLog = backendLog.Logger("REGY")
	chanLog = backendLog.Logger("CHAN")
	kstrLog = backendLog.Logger("KSTR")
	rpcsLog = backendLog.Logger("RPCS")
	cstdLog = backendLog.Logger("CSTD")
	fdcyLog = backendLog.Logger("FDCY")
)

func init() {
	wallet.UseLogger(wlltLog)
	registry.UseLogger(regyLog)
	chain.UseLogger(chanLog)
	keystore.UseLogger(kstrLog)
	rpcserver.UseLogger(rpcsLog)
	custody.UseLogger(cstdLog)
	fiduciary.UseLogger(fdcyLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"MAIN": mainLog,
	"WLLT": wlltLog,
	"REGY": regyLog,
	"CHAN": chanLog,
	"KSTR": kstrLog,
	"RPCS": rpcsLog,
	"CSTD": cstdLog,
	"FDCY": fdcyLog,
}

// Main returns the logger of the daemon itself.
func Main() btclog.Logger {
	return mainLog
}

// InitLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory. It must be called before the
// package-global log rotater variables are used.
func InitLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		return errors.Wrap(err, "failed to create log directory")
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return errors.Wrap(err, "failed to create file rotator")
	}

	logRotator = r
	return nil
}

// Close flushes and closes the log rotator, if any.
func Close() {
	if logRotator != nil {
		logRotator.Close()
	}
}

// SupportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)
	return subsystems
}

// SetLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// ParseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid.
func ParseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%s] is invalid"
			return errors.Errorf(str, debugLevel)
		}

		SetLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%s]"
			return errors.Errorf(str, logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%s] is invalid -- " +
				"supported subsystems %s"
			return errors.Errorf(str, subsysID, strings.Join(SupportedSubsystems(), ", "))
		}

		if !validLogLevel(logLevel) {
			str := "The specified debug level [%s] is invalid"
			return errors.Errorf(str, logLevel)
		}

		SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// Fatalf logs to the main logger and exits.
func Fatalf(format string, params ...interface{}) {
	mainLog.Criticalf(format, params...)
	Close()
	os.Exit(1)
}
