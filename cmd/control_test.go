package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockController implements ProcessController
type MockController struct {
	mock.Mock
}

func (m *MockController) Signal(ctx context.Context, sig os.Signal) error {
	args := m.Called(ctx, sig)
	return args.Error(0)
}

func TestRunReload_Success(t *testing.T) {
	ctl := new(MockController)
	ctl.On("Signal", mock.Anything, syscall.SIGHUP).Return(nil)

	var buf bytes.Buffer
	err := runReload(context.Background(), ctl, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Reload signal sent")
	ctl.AssertExpectations(t)
}

func TestRunStop_Success(t *testing.T) {
	ctl := new(MockController)
	ctl.On("Signal", mock.Anything, syscall.SIGTERM).Return(nil)

	var buf bytes.Buffer
	err := runStop(context.Background(), ctl, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Stop signal sent")
	ctl.AssertExpectations(t)
}

func TestRunControl_TableDriven(t *testing.T) {
	tests := []struct {
		name      string
		run       func(context.Context, ProcessController, *bytes.Buffer) error
		sig       os.Signal
		mockError error
		wantErr   string
	}{
		{
			name:      "reload not running",
			run:       func(ctx context.Context, c ProcessController, b *bytes.Buffer) error { return runReload(ctx, c, b) },
			sig:       syscall.SIGHUP,
			mockError: errors.New("node not running"),
			wantErr:   "failed to reload",
		},
		{
			name:      "stop permission denied",
			run:       func(ctx context.Context, c ProcessController, b *bytes.Buffer) error { return runStop(ctx, c, b) },
			sig:       syscall.SIGTERM,
			mockError: os.ErrPermission,
			wantErr:   "failed to stop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := new(MockController)
			ctl.On("Signal", mock.Anything, tt.sig).Return(tt.mockError)

			var buf bytes.Buffer
			err := tt.run(context.Background(), ctl, &buf)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.ErrorIs(t, err, tt.mockError)
			assert.Empty(t, buf.String())
			ctl.AssertExpectations(t)
		})
	}
}

func TestPIDFileController(t *testing.T) {
	dir := t.TempDir()

	missing := newPIDFileController(filepath.Join(dir, "missing.pid"))
	err := missing.Signal(context.Background(), syscall.Signal(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	garbage := filepath.Join(dir, "garbage.pid")
	require.NoError(t, os.WriteFile(garbage, []byte("abc\n"), 0644))
	err = newPIDFileController(garbage).Signal(context.Background(), syscall.Signal(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID file")

	self := filepath.Join(dir, "self.pid")
	require.NoError(t, os.WriteFile(self, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644))
	assert.NoError(t, newPIDFileController(self).Signal(context.Background(), syscall.Signal(0)))
}

func TestStopCmd_Execute(t *testing.T) {
	dir := t.TempDir()
	original := pidFile
	pidFile = filepath.Join(dir, "absent.pid")
	defer func() { pidFile = original }()

	root := &cobra.Command{Use: "telenode", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(stopCmd)

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"stop"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop")
}
