package metrics

// Common buckets for different types of measurements
var (
	// DurationBuckets for request/operation durations (1ms to 30s)
	DurationBuckets = []float64{
		.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30,
	}

	// ChainBuckets for on-chain round trips: broadcast, receipt and cross-chain delivery (100ms to 2min)
	ChainBuckets = []float64{
		0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120,
	}

	// CountBuckets for attempt counts, endpoint counts, etc.
	CountBuckets = []float64{
		1, 2, 3, 5, 10, 20, 30, 50, 100,
	}
)
