// Package proc runs external tools line by line so stage executors can parse
// progress and classify failures from their output.
package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Line is a single line of process output.
type Line struct {
	Text   string
	Stderr bool
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(Line)) error
}

// ExitError reports a non-zero exit together with the tail of stderr.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// CommandExecutor runs binaries through os/exec.
type CommandExecutor struct {
	// StderrTail caps how many trailing stderr lines are kept for ExitError.
	StderrTail int
}

// Run starts binary, streams both output pipes to onLine and waits for exit.
func (c CommandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(Line)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	tailSize := c.StderrTail
	if tailSize <= 0 {
		tailSize = 20
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		scanErr error
		once    sync.Once
		tail    []string
	)

	scan := func(r io.Reader, isStderr bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			text := scanner.Text()
			mu.Lock()
			if isStderr && strings.TrimSpace(text) != "" {
				tail = append(tail, text)
				if len(tail) > tailSize {
					tail = tail[len(tail)-tailSize:]
				}
			}
			if onLine != nil {
				onLine(Line{Text: text, Stderr: isStderr})
			}
			mu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout, false)
	go scan(stderr, true)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode(), Stderr: strings.Join(tail, "\n"), Err: err}
		}
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
