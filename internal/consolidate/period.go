package consolidate

import (
	"fmt"
	"time"

	"github.com/ckoons/katra/internal/types"
)

// PeriodID returns t's bucket identity for periodType, per spec §3's
// example format "2025-W43" for weekly buckets and the analogous
// "2025-10" for monthly.
func PeriodID(t time.Time, periodType types.PeriodType) string {
	if periodType == types.PeriodMonthly {
		return t.Format("2006-01")
	}
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
