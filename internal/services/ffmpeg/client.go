package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"revoice/internal/services"
)

// MixRequest describes a vocal/instrumental mixdown.
type MixRequest struct {
	VocalPath          string
	InstrumentalPath   string
	OutputPath         string
	Preset             string
	VocalGainDB        float64
	InstrumentalGainDB float64
}

// Mixer defines the behaviour required by the postprocessing handler.
type Mixer interface {
	Mix(ctx context.Context, req MixRequest) error
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

// Client wraps the ffmpeg CLI for mixing stems.
type Client struct {
	binary  string
	timeout time.Duration
	exec    services.CommandExecutor
}

// New constructs an ffmpeg client.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	client := &Client{
		binary:  binary,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    services.NewCommandExecutor(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Mix combines the vocal and instrumental stems into req.OutputPath,
// applying the preset effect chain and per-stem gain.
func (c *Client) Mix(ctx context.Context, req MixRequest) error {
	if strings.TrimSpace(req.VocalPath) == "" {
		return errors.New("vocal path required")
	}
	if strings.TrimSpace(req.InstrumentalPath) == "" {
		return errors.New("instrumental path required")
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return errors.New("output path required")
	}
	vocalChain, err := presetChain(req.Preset)
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

	args := []string{
		"-y",
		"-i", req.VocalPath,
		"-i", req.InstrumentalPath,
		"-filter_complex", buildFilterGraph(vocalChain, req.VocalGainDB, req.InstrumentalGainDB),
		"-map", "[out]",
		req.OutputPath,
	}

	if err := c.exec.Run(runCtx, c.binary, args, nil); err != nil {
		return fmt.Errorf("ffmpeg mix: %w", err)
	}
	if _, err := os.Stat(req.OutputPath); errors.Is(err, os.ErrNotExist) {
		return errors.New("ffmpeg produced no output file")
	}
	return nil
}

func buildFilterGraph(vocalChain string, vocalGain, instrumentalGain float64) string {
	vocal := fmt.Sprintf("volume=%.1fdB", vocalGain)
	if vocalChain != "" {
		vocal += "," + vocalChain
	}
	instrumental := fmt.Sprintf("volume=%.1fdB", instrumentalGain)
	return fmt.Sprintf(
		"[0:a]%s[v];[1:a]%s[i];[v][i]amix=inputs=2:duration=longest:normalize=0[out]",
		vocal,
		instrumental,
	)
}

// presetChain returns the vocal effect chain for a mix preset.
func presetChain(preset string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(preset)) {
	case "", "dry":
		return "", nil
	case "studio":
		return "acompressor=threshold=-18dB:ratio=3:attack=20:release=250,aecho=0.6:0.4:40:0.2", nil
	case "live":
		return "acompressor=threshold=-14dB:ratio=2:attack=40:release=400,aecho=0.8:0.7:120:0.4", nil
	default:
		return "", fmt.Errorf("unknown mix preset %q", preset)
	}
}
