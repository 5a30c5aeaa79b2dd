package resilience

import "go.uber.org/zap"

// hotpath logs breaker state transitions and retry attempts. These fire on
// every failed adapter call, so they use zap's allocation-light fields
// instead of the logrus-based service logger.
var hotpath = zap.NewNop()

// SetHotPathLogger installs the zap logger used for breaker and retry
// events. A nil logger is ignored.
func SetHotPathLogger(l *zap.Logger) {
	if l != nil {
		hotpath = l
	}
}
