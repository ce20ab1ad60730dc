// Package ffmpeg wraps the ffmpeg CLI for mixing converted vocals with
// instrumental stems. Mix presets map to fixed filter chains applied to
// the vocal bus before amix.
package ffmpeg
