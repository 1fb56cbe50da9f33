package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger represents a file logger for trading activities
type Logger struct {
	name    string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
	echo    bool
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelRecon   LogLevel = "RECON"
)

// NewLogger creates a new file logger. One logger covers the whole bot;
// the name tags the log filename so parallel deployments don't collide.
func NewLogger(name, logDir string) (*Logger, error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", name, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		name:    name,
		logFile: file,
		logger:  log.New(file, "", 0),
		logDir:  logDir,
	}

	l.writeSessionHeader()

	return l, nil
}

// WithEcho mirrors every log line to stdout as well
func (l *Logger) WithEcho() *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.echo = true
	return l
}

// writeSessionHeader writes a session start header to the log
func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
ORDER BLOCK TRADING SESSION STARTED
================================================================================
Bot: %s
Started: %s
================================================================================
`, l.name, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	logEntry := fmt.Sprintf("[%s] [%s] %s", timestamp, level, message)

	l.logger.Println(logEntry)
	if l.echo {
		fmt.Println(logEntry)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs a trading action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Recon logs a reconciliation action
func (l *Logger) Recon(format string, args ...interface{}) {
	l.Log(LogLevelRecon, format, args...)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	fullMessage := fmt.Sprintf(context+": "+message, args...)
	l.Warning("%s", fullMessage)
}

// LogOrderPlacement logs entry order placement details
func (l *Logger) LogOrderPlacement(symbol, side, orderID string, qty, price, takeProfit, stopLoss float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	tradeLog := fmt.Sprintf(`
[%s] [TRADE] ==================== ORDER PLACED ====================
Symbol: %s | Side: %s
Order ID: %s
Quantity: %.8f @ %.6f
Take Profit: %.6f | Stop Loss: %.6f
=========================================================`,
		timestamp, symbol, side, orderID, qty, price, takeProfit, stopLoss)

	l.logger.Println(tradeLog)
	if l.echo {
		fmt.Println(tradeLog)
	}
}

// LogOrderFill logs a detected fill
func (l *Logger) LogOrderFill(symbol, side, orderID string, filledQty, avgPrice float64, partial bool) {
	state := "FILLED"
	if partial {
		state = "PARTIALLY FILLED"
	}
	l.Trade("%s %s order %s %s: %.8f @ %.6f", symbol, side, orderID, state, filledQty, avgPrice)
}

// Close closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		footer := fmt.Sprintf(`
================================================================================
ORDER BLOCK TRADING SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, timestamp)
		l.logger.Print(footer)

		return l.logFile.Close()
	}
	return nil
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", l.name, timestamp)
	return filepath.Join(l.logDir, filename)
}
