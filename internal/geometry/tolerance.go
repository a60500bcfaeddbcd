package geometry

import (
	"fmt"

	"github.com/pkordes/trail-engine/internal/domain"
)

// Default tolerances, in coordinate degrees.
const (
	// DefaultClosureTolerance is roughly half a meter at mid latitudes. It is
	// used for the persisted path that area and overlap are computed from.
	DefaultClosureTolerance = 0.000005
	// DefaultPreviewTolerance is roughly 200 m. It is only used for the live
	// preview of an open trail, where payload size matters more than shape.
	DefaultPreviewTolerance = 0.002
)

// TolerancePolicy names the tolerance used at each call site. Callers pass
// one of these to Simplify explicitly; nothing picks a tolerance implicitly.
type TolerancePolicy struct {
	Closure float64 `yaml:"closure"`
	Preview float64 `yaml:"preview"`
}

// DefaultTolerancePolicy returns the policy used when nothing is configured.
func DefaultTolerancePolicy() TolerancePolicy {
	return TolerancePolicy{Closure: DefaultClosureTolerance, Preview: DefaultPreviewTolerance}
}

// Validate rejects negative tolerances.
func (p TolerancePolicy) Validate() error {
	if p.Closure < 0 || p.Preview < 0 {
		return fmt.Errorf("%w: tolerances must not be negative", domain.ErrValidation)
	}
	return nil
}
