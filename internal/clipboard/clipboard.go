// Package clipboard wraps the system clipboard as a best-effort sink.
// Headless machines have no clipboard; failures are logged, never fatal.
package clipboard

import (
	"github.com/atotto/clipboard"

	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

type Clipboard struct {
	logger *logger.Logger
}

func New(log *logger.Logger) *Clipboard {
	return &Clipboard{logger: log.Named("clipboard")}
}

// Copy writes text to the system clipboard and reports whether it succeeded
func (c *Clipboard) Copy(text string) bool {
	if clipboard.Unsupported {
		c.logger.Debug("Clipboard not supported on this platform")
		return false
	}
	if err := clipboard.WriteAll(text); err != nil {
		c.logger.Warn("Failed to copy to clipboard", logger.Error(err))
		return false
	}
	c.logger.Info("Transcript copied to clipboard", logger.Int("chars", len(text)))
	return true
}
