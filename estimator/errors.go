package estimator

import "errors"

var (
	ErrNotInitialized               = errors.New("estimator not initialized")
	ErrInvalidDimension             = errors.New("invalid dimension")
	ErrNonPositiveSemiDefinite      = errors.New("covariance is not symmetric positive semi-definite")
	ErrInvalidTimestep              = errors.New("invalid timestep")
	ErrStaleMeasurement             = errors.New("stale measurement")
	ErrSingularInnovationCovariance = errors.New("singular innovation covariance")
	ErrClosed                       = errors.New("estimator closed")
	ErrInvalidConfig                = errors.New("invalid configuration")
	ErrInvalidMeasurement           = errors.New("non-finite measurement")
	ErrUnsupportedMeasurement       = errors.New("measurement not supported by the kinematic model")

	// ErrCovarianceClamped is never returned as a failure; it tags clamp diagnostics
	ErrCovarianceClamped = errors.New("covariance diagonal clamped")
)
