package proctor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// fakeSheet mimics the session store's flag surface.
type fakeSheet struct {
	flagActive bool
	flagCount  int
	submitted  bool
}

func (f *fakeSheet) RaiseFlag() bool {
	if f.submitted || f.flagActive {
		return false
	}
	f.flagActive = true
	f.flagCount++
	return true
}

func (f *fakeSheet) ClearFlag() bool {
	if f.submitted || !f.flagActive {
		return false
	}
	f.flagActive = false
	return true
}

func (f *fakeSheet) Submitted() bool { return f.submitted }

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) ReportFlag(ctx context.Context, rec FlagRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func newTestMonitor(sheet *fakeSheet, flagActive bool, reporter Reporter) *Monitor {
	return NewMonitor(uuid.New(), uuid.New(), uuid.New(), sheet, flagActive, reporter, zerolog.Nop())
}

func TestMonitorReportsExactlyOncePerFlag(t *testing.T) {
	sheet := &fakeSheet{}
	reporter := new(mockReporter)
	reporter.On("ReportFlag", mock.Anything, mock.Anything).Return(nil).Once()

	m := newTestMonitor(sheet, false, reporter)

	flagged := m.HandleEnv(context.Background(), EnvEvent{Kind: EnvHidden, At: time.Now()})
	assert.True(t, flagged)
	assert.Equal(t, StateUnlocking, m.State())
	assert.True(t, sheet.flagActive)
	assert.Equal(t, 1, sheet.flagCount)

	// The rest of the event storm changes nothing.
	for _, kind := range []EnvKind{EnvResized, EnvHidden, EnvUnloading} {
		flagged := m.HandleEnv(context.Background(), EnvEvent{Kind: kind, At: time.Now()})
		assert.False(t, flagged)
	}
	assert.Equal(t, 1, sheet.flagCount)

	reporter.AssertExpectations(t)
}

func TestMonitorUnlockClearsFlagAndAllowsReflag(t *testing.T) {
	sheet := &fakeSheet{}
	reporter := new(mockReporter)
	reporter.On("ReportFlag", mock.Anything, mock.Anything).Return(nil).Twice()

	m := newTestMonitor(sheet, false, reporter)
	m.HandleEnv(context.Background(), EnvEvent{Kind: EnvHidden, At: time.Now()})

	state := m.ApplyUnlock(true)
	assert.Equal(t, StateClean, state)
	assert.False(t, sheet.flagActive)

	// A second offense flags and reports again.
	flagged := m.HandleEnv(context.Background(), EnvEvent{Kind: EnvResized, At: time.Now()})
	assert.True(t, flagged)
	assert.Equal(t, 2, sheet.flagCount)

	reporter.AssertExpectations(t)
}

func TestMonitorRemoteFlagLocksWithoutReport(t *testing.T) {
	sheet := &fakeSheet{}
	reporter := new(mockReporter)
	m := newTestMonitor(sheet, false, reporter)

	// Raised on the REST surface; the raising side persisted it already.
	flagged := m.ApplyRemoteFlag()
	assert.True(t, flagged)
	assert.Equal(t, StateUnlocking, m.State())
	assert.True(t, sheet.flagActive)
	assert.Equal(t, 1, sheet.flagCount)

	// Replays, including the echo of a local flag, change nothing.
	assert.False(t, m.ApplyRemoteFlag())
	assert.Equal(t, 1, sheet.flagCount)
	reporter.AssertNotCalled(t, "ReportFlag", mock.Anything, mock.Anything)
}

func TestMonitorRemoteFlagAfterSubmission(t *testing.T) {
	sheet := &fakeSheet{submitted: true}
	m := newTestMonitor(sheet, false, new(mockReporter))
	m.MarkSubmitted()

	assert.False(t, m.ApplyRemoteFlag())
	assert.Equal(t, StateSubmitted, m.State())
	assert.False(t, sheet.flagActive)
}

func TestMonitorWrongPasscodeKeepsFlag(t *testing.T) {
	sheet := &fakeSheet{}
	reporter := new(mockReporter)
	reporter.On("ReportFlag", mock.Anything, mock.Anything).Return(nil)

	m := newTestMonitor(sheet, false, reporter)
	m.HandleEnv(context.Background(), EnvEvent{Kind: EnvUnloading, At: time.Now()})

	state := m.ApplyUnlock(false)
	assert.Equal(t, StateUnlocking, state)
	assert.True(t, sheet.flagActive)
}

func TestMonitorReportFailureKeepsLocalFlag(t *testing.T) {
	sheet := &fakeSheet{}
	reporter := new(mockReporter)
	reporter.On("ReportFlag", mock.Anything, mock.Anything).Return(assert.AnError)

	m := newTestMonitor(sheet, false, reporter)
	flagged := m.HandleEnv(context.Background(), EnvEvent{Kind: EnvHidden, At: time.Now()})

	// Persistence is best-effort; the session locks regardless.
	assert.True(t, flagged)
	assert.True(t, sheet.flagActive)
	assert.Equal(t, StateUnlocking, m.State())
}

func TestMonitorResumesFlaggedSession(t *testing.T) {
	sheet := &fakeSheet{flagActive: true, flagCount: 1}
	m := newTestMonitor(sheet, true, new(mockReporter))

	// Reconnect lands back on the passcode prompt, no new report.
	assert.Equal(t, StateUnlocking, m.State())

	flagged := m.HandleEnv(context.Background(), EnvEvent{Kind: EnvHidden, At: time.Now()})
	assert.False(t, flagged)
	assert.Equal(t, 1, sheet.flagCount)
}

func TestMonitorIgnoresEventsAfterSubmission(t *testing.T) {
	sheet := &fakeSheet{}
	reporter := new(mockReporter)
	m := newTestMonitor(sheet, false, reporter)

	m.MarkSubmitted()
	sheet.submitted = true

	flagged := m.HandleEnv(context.Background(), EnvEvent{Kind: EnvHidden, At: time.Now()})
	assert.False(t, flagged)
	assert.Equal(t, 0, sheet.flagCount)
	assert.Equal(t, StateSubmitted, m.State())
	reporter.AssertNotCalled(t, "ReportFlag", mock.Anything, mock.Anything)
}
