package demucs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"revoice/internal/services"
)

// Result holds the stem paths produced by a separation run.
type Result struct {
	VocalPath        string
	InstrumentalPath string
}

// Separator defines the behaviour required by the separation handler.
type Separator interface {
	Separate(ctx context.Context, inputPath, workDir, model string, sampleRate int) (Result, error)
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec services.CommandExecutor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps the Demucs CLI.
type Client struct {
	binary       string
	defaultModel string
	timeout      time.Duration
	exec         services.CommandExecutor
}

// New constructs a Demucs client.
func New(binary, defaultModel string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("demucs binary required")
	}
	client := &Client{
		binary:       binary,
		defaultModel: strings.TrimSpace(defaultModel),
		timeout:      time.Duration(timeoutSeconds) * time.Second,
		exec:         services.NewCommandExecutor(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Separate runs two-stem separation on inputPath, writing stems under workDir.
// It returns the vocal and instrumental stem paths.
func (c *Client) Separate(ctx context.Context, inputPath, workDir, model string, sampleRate int) (Result, error) {
	var empty Result
	if strings.TrimSpace(inputPath) == "" {
		return empty, errors.New("input path required")
	}
	if strings.TrimSpace(workDir) == "" {
		return empty, errors.New("work directory required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return empty, errors.New("separation model required")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return empty, fmt.Errorf("create work directory: %w", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{"--two-stems=vocals", "-n", model, "-o", workDir}
	if sampleRate > 0 {
		args = append(args, "--samplerate", strconv.Itoa(sampleRate))
	}
	args = append(args, inputPath)

	if err := c.exec.Run(runCtx, c.binary, args, nil); err != nil {
		return empty, fmt.Errorf("demucs separate: %w", err)
	}

	vocal, err := findStem(workDir, "vocals")
	if err != nil {
		return empty, err
	}
	instrumental, err := findStem(workDir, "no_vocals")
	if err != nil {
		return empty, err
	}
	return Result{VocalPath: vocal, InstrumentalPath: instrumental}, nil
}

// findStem locates the newest audio file named stem.<ext> beneath root. Demucs
// nests outputs as <root>/<model>/<track>/<stem>.wav, so search recursively.
func findStem(root, stem string) (string, error) {
	var newest string
	var newestMod time.Time
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		name := strings.ToLower(entry.Name())
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if base != stem {
			return nil
		}
		switch filepath.Ext(name) {
		case ".wav", ".flac", ".mp3":
		default:
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("inspect separation outputs: %w", err)
	}
	if newest == "" {
		return "", fmt.Errorf("demucs produced no %s stem; check input audio for decode errors", stem)
	}
	return newest, nil
}
