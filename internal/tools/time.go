package tools

import (
	"context"
	"fmt"
	"time"
)

var weekdaysRU = map[time.Weekday]string{
	time.Monday:    "понедельник",
	time.Tuesday:   "вторник",
	time.Wednesday: "среда",
	time.Thursday:  "четверг",
	time.Friday:    "пятница",
	time.Saturday:  "суббота",
	time.Sunday:    "воскресенье",
}

// NewTimeTool reports the local date and time.
func NewTimeTool() *Tool {
	return &Tool{
		Name:        "get_current_time",
		Description: "Текущая дата, время и день недели",
		Handler: func(_ context.Context, _ map[string]interface{}) (string, error) {
			now := time.Now()
			return fmt.Sprintf("Сейчас %s, %s", now.Format("02.01.2006 15:04"), weekdaysRU[now.Weekday()]), nil
		},
	}
}
