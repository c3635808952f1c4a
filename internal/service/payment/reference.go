package payment

import (
	"fmt"
	"math/rand/v2"
	"time"
)

const referenceSpace = 10_000_000_000

// NewReference returns a reference id of the form PAY-YYYYMMDD-NNNNNNNNNN.
// Callers still check the id is unused before handing it to a provider.
func NewReference(now time.Time) string {
	return fmt.Sprintf("PAY-%s-%010d", now.Format("20060102"), rand.Int64N(referenceSpace))
}
