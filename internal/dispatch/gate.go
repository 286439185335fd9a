package dispatch

import (
	"time"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
)

// Admits reports whether the campaign may admit new dispatches right now.
// Paused, draft, and completed campaigns never admit; an active campaign
// admits only inside one of its calling windows. In-flight calls are not
// affected by the gate closing.
func Admits(campaign *domain.Campaign, nowUTC time.Time) bool {
	if campaign.Status != domain.CampaignStatusActive {
		return false
	}
	return withinCallingWindow(nowUTC, campaign)
}

func withinCallingWindow(nowUTC time.Time, campaign *domain.Campaign) bool {
	if len(campaign.CallingWindows) == 0 {
		return true
	}

	loc, err := time.LoadLocation(campaign.TimeZone)
	if err != nil {
		return true
	}

	local := nowUTC.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	weekday := local.Weekday()

	for _, window := range campaign.CallingWindows {
		start := window.Start.Hour()*60 + window.Start.Minute()
		end := window.End.Hour()*60 + window.End.Minute()

		if end <= start {
			// window spans midnight
			nextDay := time.Weekday((int(window.DayOfWeek) + 1) % 7)
			if window.DayOfWeek == weekday && minuteOfDay >= start {
				return true
			}
			if nextDay == weekday && minuteOfDay < end {
				return true
			}
			continue
		}

		if window.DayOfWeek != weekday {
			continue
		}

		if minuteOfDay >= start && minuteOfDay < end {
			return true
		}
	}

	return false
}
