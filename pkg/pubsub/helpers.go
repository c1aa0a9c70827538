package pubsub

import (
	"log/slog"
	"strings"
)

func FirstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// RoutingKey turns a slash-separated destination into an AMQP topic key:
// "/queue/notifications/mechanic/42" -> "queue.notifications.mechanic.42".
func RoutingKey(destination string) string {
	return strings.ReplaceAll(strings.Trim(destination, "/"), "/", ".")
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
