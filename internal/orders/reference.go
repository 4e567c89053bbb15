package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewReference returns an external order reference of the form
// order_<unix millis>_<9 hex chars>.
func NewReference(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("order_%d_%s", now.UnixMilli(), suffix)
}
