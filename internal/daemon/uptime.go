package daemon

import (
	"fmt"
	"time"
)

// FormatUptime renders d as H:MM:SS, truncated to whole seconds. Hours are
// not wrapped at 24.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
