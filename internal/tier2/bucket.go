package tier2

import (
	"os"
	"path/filepath"

	"github.com/ckoons/katra/internal/types"
)

// bucketPath returns the JSONL file backing one (period_type, period_id)
// bucket, per spec §4.4's "two directories (weekly, monthly), one file
// per period_id".
func bucketPath(baseDir string, periodType types.PeriodType, periodID string) string {
	return filepath.Join(baseDir, "tier2", periodType.String(), periodID+".jsonl")
}

func fileSizeBytes(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// bucketDirs lists both bucket directories, for rebuild_index's fallback
// directory scan.
func bucketDirs(baseDir string) []string {
	return []string{
		filepath.Join(baseDir, "tier2", types.PeriodWeekly.String()),
		filepath.Join(baseDir, "tier2", types.PeriodMonthly.String()),
	}
}
