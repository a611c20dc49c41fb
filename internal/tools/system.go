package tools

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// NewSystemCheckTool reports host health read from /proc: uptime, load
// average, memory and root-disk usage.
func NewSystemCheckTool() *Tool {
	return &Tool{
		Name:        "system_check",
		Description: "Статус сервера: аптайм, нагрузка, память, диск",
		Handler: func(_ context.Context, _ map[string]interface{}) (string, error) {
			var b strings.Builder
			b.WriteString("🖥️ Статус системы:\n")
			fmt.Fprintf(&b, "⏱ Аптайм: %s\n", readUptime())
			fmt.Fprintf(&b, "📈 Нагрузка: %s\n", readLoadAvg())
			fmt.Fprintf(&b, "🧠 Память: %s\n", readMemInfo())
			fmt.Fprintf(&b, "💾 Диск /: %s", readDiskUsage("/"))
			return b.String(), nil
		},
	}
}

func readUptime() string {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return "?"
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "?"
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "?"
	}
	d := time.Duration(secs) * time.Second
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dд %dч %dм", days, hours, mins)
	}
	return fmt.Sprintf("%dч %dм", hours, mins)
}

func readLoadAvg() string {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return "?"
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return "?"
	}
	return strings.Join(fields[:3], " ")
}

func readMemInfo() string {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return "?"
	}
	var totalKB, availKB int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			availKB, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}
	if totalKB == 0 {
		return "?"
	}
	usedKB := totalKB - availKB
	return fmt.Sprintf("%.1f ГБ из %.1f ГБ занято", float64(usedKB)/1024/1024, float64(totalKB)/1024/1024)
}

func readDiskUsage(path string) string {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "?"
	}
	total := float64(st.Blocks) * float64(st.Bsize)
	free := float64(st.Bavail) * float64(st.Bsize)
	const gb = 1 << 30
	return fmt.Sprintf("%.1f ГБ свободно из %.1f ГБ", free/gb, total/gb)
}
