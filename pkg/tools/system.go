package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

// DefaultCommandTimeout bounds a single shell command.
const DefaultCommandTimeout = 30 * time.Second

// SystemCommand returns the system_command tool. Commands run through
// /bin/sh -c and always produce a {stdout, stderr, return_code} result:
// a non-zero exit comes back as data for the model to observe, not as a
// tool failure. A timed-out command reports return_code -1.
func SystemCommand(timeout time.Duration) toolregistry.Definition {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	return toolregistry.Definition{
		Name:        "system_command",
		Description: "Execute a shell command on the host and return its stdout, stderr and return code.",
		Parameters: []toolregistry.Parameter{
			{Name: "command", Type: "string", Description: "Shell command to execute", Required: true},
		},
		// The handler enforces its own deadline so a timeout still yields
		// a structured result; the registry timeout stays out of the way.
		Timeout: timeout + 5*time.Second,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command, _ := params["command"].(string)
			return runShellCommand(ctx, command, timeout), nil
		},
	}
}

func runShellCommand(ctx context.Context, command string, timeout time.Duration) map[string]interface{} {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(cmdCtx, "/bin/sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return map[string]interface{}{
			"stdout":      "",
			"stderr":      "Command execution timed out after " + timeout.String(),
			"return_code": -1,
		}
	}

	returnCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			returnCode = exitErr.ExitCode()
		} else {
			// The shell itself could not run
			return map[string]interface{}{
				"stdout":      stdout.String(),
				"stderr":      err.Error(),
				"return_code": -1,
			}
		}
	}

	return map[string]interface{}{
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"return_code": returnCode,
	}
}
