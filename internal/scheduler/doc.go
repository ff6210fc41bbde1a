// Package scheduler turns the [cron] table into reactor timers.
//
// A bare number of seconds fires every period. An HH:MM entry fires once at
// the next wall-clock occurrence and every 24 hours after that.
package scheduler
