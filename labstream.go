package labstream

import (
	"math"
	"time"
)

// Forever makes a blocking call wait indefinitely when passed as its
// timeout. A timeout of zero polls without blocking.
const Forever time.Duration = math.MaxInt64
