package agents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"remotedev/internal/config"
	"remotedev/internal/envelope"
	"remotedev/internal/logging"
	"remotedev/internal/services"
	"remotedev/internal/stage"
)

const stderrTailLines = 20

// Executor abstracts process execution for testability.
type Executor interface {
	Run(ctx context.Context, argv, env []string, stdin []byte, onStderr func(string)) ([]byte, error)
}

// Option configures a Command.
type Option func(*Command)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Command) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger routes agent stderr and lifecycle logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Command) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Command is a stage handler backed by an external process.
type Command struct {
	name    string
	next    string
	argv    []string
	env     []string
	timeout time.Duration
	exec    Executor
	logger  *slog.Logger
}

// NewCommand builds the handler for stage name from its agent settings.
func NewCommand(name, next string, agent config.Agent, opts ...Option) (*Command, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, services.Wrap(services.ErrConfiguration, "agents", "new command", "stage name is empty", nil)
	}
	if len(agent.Command) == 0 || strings.TrimSpace(agent.Command[0]) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "agents", "new command", "agents."+name+".command is empty", nil)
	}
	c := &Command{
		name:    name,
		next:    next,
		argv:    append([]string(nil), agent.Command...),
		env:     append([]string(nil), agent.Env...),
		timeout: time.Duration(agent.Timeout) * time.Second,
		exec:    processExecutor{},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Command) Name() string        { return c.name }
func (c *Command) DisplayName() string { return stage.DisplayName(c.name) }
func (c *Command) NextStage() string   { return c.next }

// Process runs the agent with env on stdin and decodes its stdout.
func (c *Command) Process(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	input, err := env.Marshal()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, c.name, "encode envelope", "", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	logger := logging.WithContext(ctx, c.logger)
	var (
		mu   sync.Mutex
		tail []string
	)
	onStderr := func(line string) {
		logger.Debug("agent output", logging.String("line", line))
		mu.Lock()
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[len(tail)-stderrTailLines:]
		}
		mu.Unlock()
	}

	start := time.Now()
	stdout, err := c.exec.Run(runCtx, c.argv, c.env, input, onStderr)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrExternalTimeout, c.name, "run agent",
				fmt.Sprintf("agent exceeded %s", c.timeout), err)
		}
		mu.Lock()
		detail := strings.Join(tail, "\n")
		mu.Unlock()
		return nil, services.Wrap(services.ErrHandler, c.name, "run agent", detail, err)
	}
	logger.Debug("agent finished", logging.Duration("duration", time.Since(start)))

	if len(bytes.TrimSpace(stdout)) == 0 {
		return nil, services.Wrap(services.ErrHandler, c.name, "decode agent output", "agent wrote no envelope to stdout", nil)
	}
	out, err := envelope.Unmarshal(stdout)
	if err != nil {
		return nil, services.Wrap(services.ErrHandler, c.name, "decode agent output", "stdout is not an envelope", err)
	}
	return out, nil
}

// HealthCheck verifies the agent binary resolves on PATH.
func (c *Command) HealthCheck(context.Context) stage.Health {
	if _, err := exec.LookPath(c.argv[0]); err != nil {
		return stage.Unhealthy(c.name, "agent command not found: "+c.argv[0])
	}
	return stage.Healthy(c.name)
}

type processExecutor struct{}

func (processExecutor) Run(ctx context.Context, argv, env []string, stdin []byte, onStderr func(string)) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.WaitDelay = 5 * time.Second
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr := &lineWriter{emit: onStderr}
	cmd.Stderr = stderr

	err := cmd.Run()
	stderr.Flush()
	if err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}
	return stdout.Bytes(), nil
}

// lineWriter forwards complete lines written to it.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.send(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.send(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) send(line string) {
	line = strings.TrimRight(line, "\r")
	if w.emit != nil && line != "" {
		w.emit(line)
	}
}
