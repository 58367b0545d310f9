package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Channel sends a notification to its recipient through one transport.
type Channel interface {
	// Name identifies the channel in logs.
	Name() string

	// Deliver sends the notification. Errors are classified by Classify
	// when delivery runs inside a queue job.
	Deliver(ctx context.Context, notif Notification) error
}

// LogChannel writes notifications to a structured logger. Useful as a
// last-resort channel so alerts are never silently dropped.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a channel that logs every notification.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(ctx context.Context, notif Notification) error {
	c.logger.LogAttrs(ctx, slog.LevelWarn, notif.Title,
		slog.String("notification_id", notif.ID.String()),
		slog.String("recipient_id", notif.RecipientID.String()),
		slog.String("type", string(notif.Type)),
		slog.String("message", notif.Message),
	)
	return nil
}

// DevChannel implements Channel for local development. It saves each
// notification as a JSON file instead of sending it anywhere.
type DevChannel struct {
	dir string
	mu  sync.Mutex
}

// NewDevChannel creates a development channel that saves notifications to
// disk. The directory will be created if it doesn't exist.
func NewDevChannel(dir string) *DevChannel {
	return &DevChannel{dir: dir}
}

func (c *DevChannel) Name() string { return "dev" }

// Deliver saves the notification as a JSON file to the configured directory.
func (c *DevChannel) Deliver(ctx context.Context, notif Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(notif, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.json", notif.CreatedAt.Format("2006_01_02_150405"), notif.ID)
	if err := os.WriteFile(filepath.Join(c.dir, filename), data, 0644); err != nil {
		return fmt.Errorf("failed to write notification file: %w", err)
	}
	return nil
}
