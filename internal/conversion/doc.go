// Package conversion implements the voice-conversion stage: the vocal stem
// is re-sung with a target voice model, optionally steered by an uploaded
// reference voice recording.
package conversion
