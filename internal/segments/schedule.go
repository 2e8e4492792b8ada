package segments

import (
	"time"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/config"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

// DueForRefresh reports whether the hourly sweep for slot at should refresh
// seg. Hourly segments run every slot, daily ones at the configured hour and
// weekly ones at that hour on the configured weekday.
func DueForRefresh(seg *models.CustomerSegment, at time.Time, cfg config.Segments) bool {
	if seg.Status != models.SegmentActive || !seg.AutoRefreshEnabled {
		return false
	}
	switch seg.AutoRefreshFrequency {
	case models.RefreshHourly:
		return true
	case models.RefreshDaily:
		return at.Hour() == cfg.RefreshHour
	case models.RefreshWeekly:
		return at.Weekday() == cfg.RefreshWeekday && at.Hour() == cfg.RefreshHour
	}
	return false
}
