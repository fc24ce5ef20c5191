package hypergrep

import "errors"

var errNoPrefilter = errors.New("no prefilter backend in this build")

// prefilter rejects whole buffers in which no entry of a Program can match.
// It may report false positives, never false negatives.
type prefilter interface {
	mayMatch(buf []byte) bool
	close()
}
