package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/thushan/perch/internal/core/domain"
	"github.com/thushan/perch/theme"
)

// StyledLogger wraps slog.Logger with Theme-aware formatting
type StyledLogger struct {
	logger *slog.Logger
	Theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		Theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Counts}.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithAccount(msg string, username string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Account}.Sprint("@", username))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithAccount(msg string, username string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Account}.Sprint("@", username))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithAccount(msg string, username string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Account}.Sprint("@", username))
	sl.logger.Error(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithProxy(msg string, address string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Proxy}.Sprint(address))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithProxy(msg string, address string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Proxy}.Sprint(address))
	sl.logger.Warn(styledMsg, args...)
}

// InfoProxyStatus logs a proxy state transition with the state coloured
// by the theme palette
func (sl *StyledLogger) InfoProxyStatus(msg string, address string, status domain.ProxyStatus, args ...any) {
	var statusColor pterm.Color
	var statusText string

	switch status {
	case domain.ProxyHealthy:
		statusColor = sl.Theme.ProxyHealthy
		statusText = "Healthy"
	case domain.ProxyCooling:
		statusColor = sl.Theme.ProxyCooling
		statusText = "Cooling"
	case domain.ProxyUnhealthy:
		statusColor = sl.Theme.ProxyUnhealthy
		statusText = "Unhealthy"
	default:
		statusColor = sl.Theme.ProxyUnknown
		statusText = "Unknown"
	}
	styledMsg := fmt.Sprintf("%s %s is %s", msg,
		pterm.Style{sl.Theme.Proxy}.Sprint(address),
		pterm.Style{statusColor}.Sprint(statusText))
	sl.logger.Info(styledMsg, args...)
}

// WarnAlert logs a triggered alert; the alert `log` channel lands here
func (sl *StyledLogger) WarnAlert(msg string, rule string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Alert}.Sprint(rule))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		Theme:  sl.Theme,
	}
}

func (sl *StyledLogger) WithAccountID(accountID string) *StyledLogger {
	return sl.With("account_id", accountID)
}
