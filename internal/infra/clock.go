package infra

import (
	"time"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Ensure RealClock implements domain.Clock.
var _ domain.Clock = RealClock{}
