package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"remotedev/internal/config"
	"remotedev/internal/services"
	"remotedev/internal/services/github"
)

// Viewer resolves the identity behind an API token.
type Viewer interface {
	Viewer(ctx context.Context) (string, error)
}

// CheckGitHub verifies the GitHub token authenticates. It uses a 10-second
// timeout and a single attempt.
func CheckGitHub(ctx context.Context, client Viewer) Result {
	const name = "GitHub"
	if client == nil {
		return Result{Name: name, Detail: "not configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	login, err := client.Viewer(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "authenticated as " + login}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckAgentCommand verifies the executable configured for stage resolves.
func CheckAgentCommand(stage string, agent config.Agent) Result {
	name := "Agent " + stage
	if len(agent.Command) == 0 {
		return Result{Name: name, Detail: "no command configured"}
	}
	path, err := exec.LookPath(agent.Command[0])
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", agent.Command[0], err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, services.ErrExternalTimeout) {
		return "check timed out (API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (API unreachable)"
	}
	var statusErr *github.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "auth failed (invalid token)"
		default:
			return fmt.Sprintf("auth check failed (%d)", statusErr.Code)
		}
	}
	return err.Error()
}
