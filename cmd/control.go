package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcessController signals a running node.
type ProcessController interface {
	Signal(ctx context.Context, sig os.Signal) error
}

// pidFileController finds the node through its PID file.
type pidFileController struct {
	path string
}

func newPIDFileController(path string) ProcessController {
	return &pidFileController{path: path}
}

func (c *pidFileController) Signal(_ context.Context, sig os.Signal) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("node not running: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid PID file %s", c.path)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("node not running (stale PID %d)", pid)
		}
		return err
	}
	return nil
}
