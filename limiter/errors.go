package limiter

import "errors"

// ErrInvalidConfig is returned by New when a configuration value violates its
// constraints.
var ErrInvalidConfig = errors.New("invalid limiter configuration")

// ErrUnsupportedAlgorithm is returned by New for an unknown algorithm tag.
var ErrUnsupportedAlgorithm = errors.New("unsupported rate limit algorithm")
