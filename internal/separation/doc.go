// Package separation implements the stem-separation stage: the uploaded
// source audio is split into vocal and instrumental stems which are stored
// as session artifacts for the downstream stages.
package separation
