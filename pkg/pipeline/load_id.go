// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"

	"github.com/jonboulle/clockwork"
)

// NewLoadID returns a load id for the current time, as unix seconds with
// microseconds: 1700000000.123456. Load ids sort by creation time.
func NewLoadID(clock clockwork.Clock) string {
	now := clock.Now()
	return fmt.Sprintf("%d.%06d", now.Unix(), now.Nanosecond()/1000)
}
