//go:build !hyperscan

package hypergrep

func newPrefilter([]progEntry) (prefilter, error) {
	return nil, errNoPrefilter
}
