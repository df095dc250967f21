package resilience

// FetchOptions describes the fidelity of an upstream resource fetch. The
// degradation policy maps a failed call's options to a cheaper set so the
// caller can retry a decayed-but-successful path rather than fail outright.
type FetchOptions struct {
	// PageSize bounds list fetches.
	PageSize int
	// Detail selects the representation: "full", "summary", or "minimal".
	Detail string
	// IncludeStreams requests raw sample streams alongside the resource.
	IncludeStreams bool
	// Resolution selects stream density: "high", "medium", or "low".
	Resolution string
}

// DefaultFetchOptions is the full-fidelity request shape.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		PageSize:       100,
		Detail:         "full",
		IncludeStreams: true,
		Resolution:     "high",
	}
}

// Degrade returns a reduced-fidelity option set for the class of the failure.
// It reports false when no cheaper shape remains.
func Degrade(opts FetchOptions, err error) (FetchOptions, bool) {
	class := Classify(err).Class

	switch class {
	case ClassRateLimit:
		// fewer, smaller calls: halve the page and drop streams first
		if opts.IncludeStreams {
			opts.IncludeStreams = false
			opts.Resolution = "low"
			return opts, true
		}
		if opts.PageSize > 10 {
			opts.PageSize /= 2
			return opts, true
		}
	case ClassTimeout, ClassNetwork, ClassUpstream:
		// lighter payloads are likelier to complete
		if opts.Resolution == "high" {
			opts.Resolution = "medium"
			return opts, true
		}
		if opts.Detail == "full" {
			opts.Detail = "summary"
			return opts, true
		}
		if opts.IncludeStreams {
			opts.IncludeStreams = false
			return opts, true
		}
		if opts.Detail == "summary" {
			opts.Detail = "minimal"
			opts.Resolution = "low"
			return opts, true
		}
	case ClassFormat:
		// a stricter, smaller representation sidesteps most parse failures
		if opts.Detail != "minimal" {
			opts.Detail = "minimal"
			opts.IncludeStreams = false
			return opts, true
		}
	}

	return opts, false
}
