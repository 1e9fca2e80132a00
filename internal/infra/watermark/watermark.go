// Package watermark drives the external image watermarking tool. The tool is
// invoked as `<command...> embed <input> <output> <text>` and
// `<command...> extract <input>`.
package watermark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimeout = 60 * time.Second

var ErrToolFailed = errors.New("watermark tool failed")

type EmbedRequest struct {
	InputPath  string
	OutputPath string
	Text       string
}

type Adapter struct {
	command []string
	timeout time.Duration
	log     logrus.FieldLogger
}

func New(command []string, timeout time.Duration, log logrus.FieldLogger) (*Adapter, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("watermark command is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{command: append([]string(nil), command...), timeout: timeout, log: log}, nil
}

// Embed writes a watermarked copy of InputPath to OutputPath and returns the
// tool's trimmed stdout.
func (a *Adapter) Embed(ctx context.Context, req EmbedRequest) (string, error) {
	if req.InputPath == "" || req.OutputPath == "" || req.Text == "" {
		return "", errors.New("input path, output path and text are required")
	}
	out, err := a.run(ctx, "embed", req.InputPath, req.OutputPath, req.Text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Extract returns the tool's report for a watermarked image. A JSON object in
// the output is decoded; plain output is returned under "output".
func (a *Adapter) Extract(ctx context.Context, inputPath string) (map[string]any, error) {
	if inputPath == "" {
		return nil, errors.New("input path is required")
	}
	out, err := a.run(ctx, "extract", inputPath)
	if err != nil {
		return nil, err
	}
	return parseReport(out)
}

func (a *Adapter) run(ctx context.Context, mode string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	argv := append(append(append([]string(nil), a.command[1:]...), mode), args...)
	cmd := exec.CommandContext(ctx, a.command[0], argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of a killed tool can hold the output pipes open.
	cmd.WaitDelay = time.Second

	started := time.Now()
	err := cmd.Run()
	entry := a.log.WithFields(logrus.Fields{
		"mode":        mode,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	if err != nil {
		if ctx.Err() != nil {
			entry.WithError(ctx.Err()).Warn("watermark tool timed out")
			return "", fmt.Errorf("%w: %s: %v", ErrToolFailed, mode, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			entry = entry.WithField("exit_code", exitErr.ExitCode())
		}
		entry.Warn("watermark tool failed")
		return "", fmt.Errorf("%w: %s: %s", ErrToolFailed, mode, msg)
	}
	entry.Debug("watermark tool finished")
	return stdout.String(), nil
}

func parseReport(out string) (map[string]any, error) {
	idx := strings.Index(out, "{")
	if idx < 0 {
		return map[string]any{"output": strings.TrimSpace(out)}, nil
	}
	raw := strings.TrimSpace(out[idx:])
	var report map[string]any
	if err := json.Unmarshal([]byte(raw), &report); err == nil {
		return report, nil
	}
	// Python dict reprs use single quotes.
	if err := json.Unmarshal([]byte(strings.ReplaceAll(raw, "'", `"`)), &report); err == nil {
		return report, nil
	}
	return nil, fmt.Errorf("%w: unparseable extract output", ErrToolFailed)
}
