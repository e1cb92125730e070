package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"corsgate/failure"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
)

// Severity levels understood by the structured logging sink. DEBUG, INFO,
// WARNING and ERROR coincide with the slog built-ins.
const (
	LevelDefault   = slog.Level(-8)
	LevelDebug     = slog.LevelDebug
	LevelInfo      = slog.LevelInfo
	LevelNotice    = slog.Level(2)
	LevelWarning   = slog.LevelWarn
	LevelError     = slog.LevelError
	LevelCritical  = slog.Level(12)
	LevelAlert     = slog.Level(16)
	LevelEmergency = slog.Level(20)
)

// SeverityKey replaces slog's "level" key in every record.
const SeverityKey = "severity"

var logger *slog.Logger

// Predefined styles for formatting verbose log messages using the `color` package.
var (
	methodStyle    = color.New(color.FgHiWhite, color.BgGreen).SprintFunc()     // methodStyle formats HTTP methods.
	detailStyle    = color.New(color.FgHiWhite, color.BgRed).SprintFunc()       // detailStyle formats detailed log sections.
	boldWhiteStyle = color.New(color.FgWhite, color.Bold).SprintFunc()          // boldWhiteStyle formats text in bold white.
	urlStyle       = color.New(color.FgHiWhite, color.BgHiCyan).SprintFunc()    // urlStyle formats URLs.
	headersStyle   = color.New(color.FgHiWhite, color.BgHiMagenta).SprintFunc() // headersStyle formats HTTP headers.
	statusStyle    = color.New(color.FgHiWhite, color.BgYellow).SprintFunc()    // statusStyle formats HTTP status codes.
)

// ParseLevel maps a configured level name to a slog level. Both the slog
// names and the severity names are accepted; unknown names map to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "default":
		return LevelDefault
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	case "critical":
		return LevelCritical
	case "alert":
		return LevelAlert
	case "emergency":
		return LevelEmergency
	default:
		return LevelInfo // Default to info if unrecognized
	}
}

// SeverityName returns the sink severity for a slog level. Levels between
// two named severities round down.
func SeverityName(level slog.Level) string {
	switch {
	case level >= LevelEmergency:
		return "EMERGENCY"
	case level >= LevelAlert:
		return "ALERT"
	case level >= LevelCritical:
		return "CRITICAL"
	case level >= LevelError:
		return "ERROR"
	case level >= LevelWarning:
		return "WARNING"
	case level >= LevelNotice:
		return "NOTICE"
	case level >= LevelInfo:
		return "INFO"
	case level >= LevelDebug:
		return "DEBUG"
	default:
		return "DEFAULT"
	}
}

// replaceSeverity renames the level attribute to "severity".
func replaceSeverity(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		return slog.String(SeverityKey, SeverityName(level))
	}
	return a
}

// NewLogger builds a logger writing to w.
//
// Parameters:
// - w: The destination of the log records.
// - level: The minimum level name (see ParseLevel).
// - format: "json" for one JSON object per record, anything else for tinted text.
//
// Returns:
// - *slog.Logger: The configured logger.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	levelVar := new(slog.LevelVar)
	levelVar.Set(ParseLevel(level))

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar, ReplaceAttr: replaceSeverity})
	} else {
		handler = tint.NewHandler(w, &tint.Options{Level: levelVar, ReplaceAttr: replaceSeverity})
	}
	return slog.New(handler)
}

// InitializeLogger initializes a new stdout logger and makes it the global one.
func InitializeLogger(level, format string) *slog.Logger {
	logger = NewLogger(os.Stdout, level, format)
	return logger
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	if logger == nil {
		// Initialize with a default level in case the logger wasn't set up
		logger = InitializeLogger("info", "text")
	}
	return logger
}

// LogFailure writes the diagnostic fields of err at WARNING for client
// errors and ERROR for everything else.
//
// Parameters:
// - ctx: The request context.
// - logger: The logger to write to; the global logger when nil.
// - msg: The record message.
// - err: The failure to describe.
func LogFailure(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = GetLogger()
	}
	level := LevelError
	if status := failure.StatusCode(err); status >= 400 && status < 500 {
		level = LevelWarning
	}
	logger.LogAttrs(ctx, level, msg, slog.Attr{Key: "error", Value: slog.GroupValue(failure.Fields(err)...)})
}

// LogRequestVerbose logs detailed information about the exchange for debugging purposes.
// A preview shorter than bodySize is marked as truncated.
func LogRequestVerbose(logger *slog.Logger, req *http.Request, target string, statusCode int, preview []byte, bodySize int64, duration time.Duration) {
	if logger == nil {
		logger = GetLogger()
	}
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(detailStyle("----------- Request Details -----------"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("%s: %s\n\n", methodStyle("Method:"), boldWhiteStyle(req.Method)))
	sb.WriteString(fmt.Sprintf("%s: %s\n\n", urlStyle("URL:"), boldWhiteStyle(req.URL.String())))
	if target != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n\n", urlStyle("Target:"), boldWhiteStyle(target)))
	}

	sb.WriteString(headersStyle("Request Headers:"))
	sb.WriteString("\n")
	for name, values := range req.Header {
		for _, h := range values {
			sb.WriteString(fmt.Sprintf("\t%s: %s\n", boldWhiteStyle(name), h))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(detailStyle("----------- Response Details -----------"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("%s: %d\n\n", statusStyle("Status Code:"), statusCode))
	if len(preview) == 0 {
		sb.WriteString(fmt.Sprintf("%s: [Empty]\n\n", statusStyle("Body:")))
	} else if int64(len(preview)) < bodySize {
		sb.WriteString(fmt.Sprintf("%s:\n\t%s\n\n", statusStyle(fmt.Sprintf("Body (preview, truncated, %d bytes total)", bodySize)), string(preview)))
	} else {
		sb.WriteString(fmt.Sprintf("%s:\n\t%s\n\n", statusStyle("Body (preview):"), string(preview)))
	}
	sb.WriteString(fmt.Sprintf("%s: %.6f seconds\n\n", boldWhiteStyle("Response Time:"), duration.Seconds()))

	sb.WriteString(detailStyle("---------------------------------------"))

	logger.Debug("Verbose request details", slog.String("formatted_output", sb.String()))
}

// LogRequestCompact logs the exchange in a compact format using structured logging.
func LogRequestCompact(logger *slog.Logger, r *http.Request, target string, statusCode int, bytesWritten int64, duration time.Duration) {
	if logger == nil {
		logger = GetLogger()
	}

	logger.Info("HTTP request processed",
		slog.String("client_ip", r.RemoteAddr),
		slog.String("method", r.Method),
		slog.String("target", target),
		slog.String("protocol", r.Proto),
		slog.Int("status_code", statusCode),
		slog.Int64("bytes_written", bytesWritten),
		slog.String("origin", r.Header.Get("Origin")),
		slog.String("user_agent", r.Header.Get("User-Agent")),
		slog.Float64("duration_seconds", duration.Seconds()),
	)
}
