// Package notifier provides desktop notifications for finished passes
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/types"
)

// Notifier reports the outcome of a pass to the user
type Notifier interface {
	NotifyBuild(report *types.BuildReport)
	NotifyConversion(report *types.ConversionReport)
}

// SendFunc delivers one notification
type SendFunc func(title, message string) error

// BuildNotifier handles build notifications
type BuildNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
	send         SendFunc
	beep         func() error
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	SuccessSound string
	FailureSound string
}

// FromTypes converts the config file section into a notifier config
func FromTypes(cfg *types.NotificationConfig) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		Enabled:      cfg.IsEnabled(),
		SuccessSound: cfg.SuccessSound,
		FailureSound: cfg.FailureSound,
	}
}

// New creates a new build notifier sending through beeep
func New(config Config, log logger.Logger) *BuildNotifier {
	return NewWithSender(config, log, func(title, message string) error {
		return beeep.Notify(title, message, "")
	})
}

// NewWithSender creates a notifier delivering through send
func NewWithSender(config Config, log logger.Logger, send SendFunc) *BuildNotifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &BuildNotifier{
		enabled:      config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
		send:         send,
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
	}
}

// NotifyBuild notifies the outcome of a build pass
func (n *BuildNotifier) NotifyBuild(report *types.BuildReport) {
	if !n.enabled || report == nil {
		return
	}

	if report.Status == types.RunStatusSuccess {
		title := "✅ Build Succeeded"
		message := fmt.Sprintf("%d built, %d already built in %s",
			report.Built.Count, report.Skipped.Count, formatDuration(report.Elapsed))
		n.sendNotification(title, message, n.successSound)
		return
	}

	title := "❌ Build Failed"
	message := fmt.Sprintf("%d built, %d blocked", report.Built.Count, report.Blocked.Count)
	if report.Failed != nil {
		message = fmt.Sprintf("%s: %s", report.Failed.Path, report.Failed.Error)
	}
	n.sendNotification(title, message, n.failureSound)
}

// NotifyConversion notifies about conversion failures. Clean conversions are
// not announced.
func (n *BuildNotifier) NotifyConversion(report *types.ConversionReport) {
	if !n.enabled || report == nil || report.Failed.Count == 0 {
		return
	}

	title := "⚠️ Conversion Failed"
	message := fmt.Sprintf("%d of %d projects failed to convert", report.Failed.Count, report.ProjectCount)
	n.sendNotification(title, message, n.failureSound)
}

func (n *BuildNotifier) sendNotification(title, message, soundName string) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}

	if soundName != "" && n.beep != nil {
		if err := n.beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithError(err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
