// Package postprocess implements the mixdown stage: the converted vocal is
// combined with the instrumental stem under a named effect preset and the
// result is stored as the session's mixed output.
package postprocess
