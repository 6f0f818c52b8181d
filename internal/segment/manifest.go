package segment

import (
	"fmt"
	"time"

	"github.com/mira-ai/mira/internal/models"
)

// ManifestEntry is one user-facing row in the segment listing: a relative
// date label grouping plus the `[start-END|ACTIVE]` time marker.
type ManifestEntry struct {
	DateLabel    string
	TimeMarker   string
	DisplayTitle string
	Summary      string
	Status       models.SegmentStatus
}

// Manifest projects every sentinel in a continuum into the §4.13 relative
// date-grouped, most-recent-first listing.
func Manifest(c *models.Continuum, now time.Time) []ManifestEntry {
	var entries []ManifestEntry
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if !m.IsSegmentBoundary() {
			continue
		}
		sum := models.SummaryFromSentinel(m)
		entries = append(entries, ManifestEntry{
			DateLabel:    dateLabel(sum.StartTime, now),
			TimeMarker:   timeMarker(sum),
			DisplayTitle: sum.DisplayTitle,
			Summary:      sum.Summary,
			Status:       sum.Status,
		})
	}
	return entries
}

// dateLabel renders TODAY/YESTERDAY/MMM-DD relative to now's calendar day,
// in now's location.
func dateLabel(t, now time.Time) string {
	t = t.In(now.Location())
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return "TODAY"
	}
	yesterday := now.AddDate(0, 0, -1)
	yy, ym, yd := yesterday.Date()
	if ty == yy && tm == ym && td == yd {
		return "YESTERDAY"
	}
	return fmt.Sprintf("%s-%02d", monthAbbrev(t.Month()), t.Day())
}

// timeMarker renders the `[start-END]` or `[start-ACTIVE]` marker.
func timeMarker(sum models.SegmentSummary) string {
	start := sum.StartTime.Format("15:04")
	if sum.Status == models.SegmentActive || sum.EndTime == nil {
		return fmt.Sprintf("[%s-ACTIVE]", start)
	}
	return fmt.Sprintf("[%s-%s]", start, sum.EndTime.Format("15:04"))
}

func monthAbbrev(m time.Month) string {
	names := [...]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}
	return names[m-1]
}
