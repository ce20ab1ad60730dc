package rvc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"revoice/internal/services"
)

// Request describes a single voice conversion run.
type Request struct {
	InputPath     string
	OutputPath    string
	ModelID       string
	ReferencePath string
	PitchShift    int
	FormantShift  float64
	Algorithm     string
}

// Converter defines the behaviour required by the conversion handler.
type Converter interface {
	Convert(ctx context.Context, req Request) error
	Models() ([]string, error)
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

// Client wraps the RVC inference CLI.
type Client struct {
	binary   string
	modelDir string
	timeout  time.Duration
	exec     services.CommandExecutor
}

// New constructs an RVC client.
func New(binary, modelDir string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("rvc binary required")
	}
	client := &Client{
		binary:   binary,
		modelDir: strings.TrimSpace(modelDir),
		timeout:  time.Duration(timeoutSeconds) * time.Second,
		exec:     services.NewCommandExecutor(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Convert runs voice conversion on req.InputPath, writing req.OutputPath.
func (c *Client) Convert(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.InputPath) == "" {
		return errors.New("input path required")
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return errors.New("output path required")
	}
	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		return errors.New("model id required")
	}
	modelPath, err := c.resolveModel(modelID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	algorithm := strings.TrimSpace(req.Algorithm)
	if algorithm == "" {
		algorithm = "rmvpe"
	}
	formant := req.FormantShift
	if formant == 0 {
		formant = 1.0
	}

	args := []string{
		"infer",
		"--model", modelPath,
		"--input", req.InputPath,
		"--output", req.OutputPath,
		"--transpose", strconv.Itoa(req.PitchShift),
		"--formant-shift", strconv.FormatFloat(formant, 'f', -1, 64),
		"--f0-method", algorithm,
	}
	if ref := strings.TrimSpace(req.ReferencePath); ref != "" {
		args = append(args, "--reference", ref)
	}

	if err := c.exec.Run(runCtx, c.binary, args, nil); err != nil {
		return fmt.Errorf("rvc convert: %w", err)
	}
	if _, err := os.Stat(req.OutputPath); errors.Is(err, os.ErrNotExist) {
		return errors.New("rvc produced no output file; check model compatibility")
	}
	return nil
}

// Models lists the voice model identifiers available under the model directory.
func (c *Client) Models() ([]string, error) {
	if c.modelDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(c.modelDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list voice models: %w", err)
	}
	var models []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			models = append(models, name)
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), ".pth") {
			models = append(models, strings.TrimSuffix(name, filepath.Ext(name)))
		}
	}
	return models, nil
}

// resolveModel maps a model identifier to a path under the model directory.
// A directory named after the model wins over a bare .pth checkpoint.
func (c *Client) resolveModel(modelID string) (string, error) {
	if filepath.Base(modelID) != modelID {
		return "", fmt.Errorf("invalid model id %q", modelID)
	}
	if c.modelDir == "" {
		return modelID, nil
	}
	dirPath := filepath.Join(c.modelDir, modelID)
	if info, err := os.Stat(dirPath); err == nil && info.IsDir() {
		return dirPath, nil
	}
	pthPath := filepath.Join(c.modelDir, modelID+".pth")
	if _, err := os.Stat(pthPath); err == nil {
		return pthPath, nil
	}
	return "", fmt.Errorf("voice model %q not found in %s", modelID, c.modelDir)
}
