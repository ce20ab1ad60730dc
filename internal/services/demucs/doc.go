// Package demucs wraps the Demucs CLI for two-stem vocal separation.
// Execution is abstracted behind services.CommandExecutor so handlers can
// be tested without the binary installed.
package demucs
