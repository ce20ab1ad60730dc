// Package analysis implements the final pipeline stage: lyric mood and
// genre classification through the model API, plus optional cover art
// generation. Results are stored as analysis_report and cover_art
// artifacts.
package analysis
