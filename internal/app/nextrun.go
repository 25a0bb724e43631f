package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSendTime = "08:00"
	DefaultTimezone = "America/Sao_Paulo"

	nextRunFallback = 24 * time.Hour
)

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the next occurrence of sendTime (HH:MM) in timezone strictly after now.
// Any parse failure falls back to now plus 24 hours.
func NextRun(sendTime, timezone string, now time.Time) time.Time {
	schedule, err := dailySchedule(sendTime, timezone)
	if err != nil {
		return now.Add(nextRunFallback)
	}
	return schedule.Next(now)
}

func dailySchedule(sendTime, timezone string) (cron.Schedule, error) {
	sendTime = strings.TrimSpace(sendTime)
	if sendTime == "" {
		sendTime = DefaultSendTime
	}
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		timezone = DefaultTimezone
	}

	hour, minute, err := parseClock(sendTime)
	if err != nil {
		return nil, err
	}

	return dailyParser.Parse(fmt.Sprintf("CRON_TZ=%s %d %d * * *", timezone, minute, hour))
}

func parseClock(value string) (int, int, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("invalid send time %q", value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in send time %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in send time %q", value)
	}
	return hour, minute, nil
}
