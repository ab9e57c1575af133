package billing

import "time"

// DateLayout is the metering date format used by the billing API.
const DateLayout = "20060102"

// TargetDate returns the YYYYMMDD date offsetDays away from now in loc.
func TargetDate(now time.Time, loc *time.Location, offsetDays int) string {
	if loc != nil {
		now = now.In(loc)
	}
	return now.AddDate(0, 0, offsetDays).Format(DateLayout)
}

// DisplayDate turns YYYYMMDD into YYYY-MM-DD. Anything else is returned as is.
func DisplayDate(date string) string {
	if len(date) != 8 {
		return date
	}
	return date[0:4] + "-" + date[4:6] + "-" + date[6:8]
}

// ValidDate reports whether date is a YYYYMMDD calendar day.
func ValidDate(date string) bool {
	_, err := time.Parse(DateLayout, date)
	return err == nil
}
