package dataset

import (
	"os"

	"go.uber.org/zap"
)

// CheckPath reports whether path exists on disk. When it does not, a
// diagnostic is logged with the supplied kind ("directory", "file") and false
// is returned; callers are expected to skip the entry and continue.
func CheckPath(path, kind string, log *zap.SugaredLogger) bool {
	if _, err := os.Stat(path); err != nil {
		if log != nil {
			log.Warnw("path does not exist", "kind", kind, "path", path)
		}
		return false
	}
	return true
}
