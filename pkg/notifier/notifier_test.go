package notifier_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/notifier"
	"github.com/projbuild/projbuild/pkg/types"
)

type sent struct {
	title   string
	message string
}

func recorder(out *[]sent, err error) notifier.SendFunc {
	return func(title, message string) error {
		*out = append(*out, sent{title, message})
		return err
	}
}

func TestNotifier_BuildSuccess(t *testing.T) {
	var got []sent
	n := notifier.NewWithSender(notifier.Config{Enabled: true}, logger.NewNopLogger(), recorder(&got, nil))

	report := &types.BuildReport{Status: types.RunStatusSuccess, Elapsed: 1500 * time.Millisecond}
	report.Built.Add("/r/a.proj")
	report.Built.Add("/r/b.proj")

	n.NotifyBuild(report)

	require.Len(t, got, 1)
	assert.Equal(t, "✅ Build Succeeded", got[0].title)
	assert.Equal(t, "2 built, 0 already built in 1.5s", got[0].message)
}

func TestNotifier_BuildFailure(t *testing.T) {
	var got []sent
	n := notifier.NewWithSender(notifier.Config{Enabled: true}, logger.NewNopLogger(), recorder(&got, nil))

	report := &types.BuildReport{
		Status: types.RunStatusFailed,
		Failed: &types.ProjectError{Path: "/r/c.proj", Error: "exit status 2"},
	}

	n.NotifyBuild(report)

	require.Len(t, got, 1)
	assert.Equal(t, "❌ Build Failed", got[0].title)
	assert.Equal(t, "/r/c.proj: exit status 2", got[0].message)
}

func TestNotifier_Conversion(t *testing.T) {
	var got []sent
	n := notifier.NewWithSender(notifier.Config{Enabled: true}, logger.NewNopLogger(), recorder(&got, nil))

	clean := &types.ConversionReport{ProjectCount: 2}
	n.NotifyConversion(clean)
	assert.Empty(t, got, "clean conversions are not announced")

	failed := &types.ConversionReport{ProjectCount: 3}
	failed.Failed.Add("/r/b.proj")
	n.NotifyConversion(failed)

	require.Len(t, got, 1)
	assert.Equal(t, "1 of 3 projects failed to convert", got[0].message)
}

func TestNotifier_Disabled(t *testing.T) {
	var got []sent
	n := notifier.NewWithSender(notifier.Config{Enabled: false}, nil, recorder(&got, nil))

	n.NotifyBuild(&types.BuildReport{Status: types.RunStatusSuccess})
	n.NotifyConversion(&types.ConversionReport{Failed: types.ProjectList{Count: 1}})

	assert.Empty(t, got)
}

func TestNotifier_SendErrorFallsBackToLog(t *testing.T) {
	var got []sent
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)
	n := notifier.NewWithSender(notifier.Config{Enabled: true}, log, recorder(&got, errors.New("no display")))

	n.NotifyBuild(&types.BuildReport{Status: types.RunStatusSuccess})

	assert.Len(t, got, 1)
	assert.Contains(t, buf.String(), "Build Succeeded")
}

func TestFromTypes(t *testing.T) {
	assert.False(t, notifier.FromTypes(nil).Enabled)

	enabled := true
	cfg := notifier.FromTypes(&types.NotificationConfig{Enabled: &enabled, FailureSound: "Basso"})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "Basso", cfg.FailureSound)
}
