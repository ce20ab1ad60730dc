// Package rvc wraps the RVC voice conversion CLI. Model identifiers are
// resolved against a configured model directory, either a per-model
// subdirectory or a bare .pth checkpoint.
package rvc
