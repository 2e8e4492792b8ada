package segments

import (
	"testing"
	"time"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/config"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

func TestDueForRefresh(t *testing.T) {
	cfg := config.Segments{RefreshHour: 2, RefreshWeekday: time.Monday}
	monday2am := time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC)
	monday3am := monday2am.Add(time.Hour)
	tuesday2am := monday2am.AddDate(0, 0, 1)

	seg := func(freq string) *models.CustomerSegment {
		return &models.CustomerSegment{Status: models.SegmentActive, AutoRefreshEnabled: true, AutoRefreshFrequency: freq}
	}
	cases := []struct {
		name string
		seg  *models.CustomerSegment
		at   time.Time
		want bool
	}{
		{"hourly any slot", seg(models.RefreshHourly), monday3am, true},
		{"daily at hour", seg(models.RefreshDaily), tuesday2am, true},
		{"daily off hour", seg(models.RefreshDaily), monday3am, false},
		{"weekly on day", seg(models.RefreshWeekly), monday2am, true},
		{"weekly wrong day", seg(models.RefreshWeekly), tuesday2am, false},
		{"disabled", &models.CustomerSegment{Status: models.SegmentActive, AutoRefreshFrequency: models.RefreshHourly}, monday2am, false},
		{"inactive", &models.CustomerSegment{Status: models.SegmentInactive, AutoRefreshEnabled: true, AutoRefreshFrequency: models.RefreshHourly}, monday2am, false},
	}
	for _, tc := range cases {
		if got := DueForRefresh(tc.seg, tc.at, cfg); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
