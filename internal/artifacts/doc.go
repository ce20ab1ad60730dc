// Package artifacts owns the lifecycle of files produced and consumed by the
// pipeline: uploads, stems, converted vocals, the final mix, and generated
// artwork.
//
// Files live under <data_dir>/sessions/<id>/ in per-kind subdirectories, and
// an index table maps each (session, kind) pair to exactly the most recently
// saved artifact. Saving a new artifact of an existing kind supersedes the
// prior one. Artifacts are never removed during an active run; removal only
// happens through the explicit reset cascade or session deletion.
package artifacts
