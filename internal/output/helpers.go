package output

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/tanq16/sud/internal/downloader"
	"github.com/tanq16/sud/internal/utils"
)

// ProgressBar renders percent (0 to 100) as a bar of width cells.
func ProgressBar(percent float64, width int) string {
	if width <= 0 {
		width = 30
	}
	percent = max(0, min(percent, 100))
	filled := int(percent / 100 * float64(width))
	bar := StyleSymbols["bullet"] + strings.Repeat(StyleSymbols["hline"], filled) + strings.Repeat(" ", width-filled) + StyleSymbols["bullet"]
	return fmt.Sprintf("%s %.1f%%", bar, percent)
}

// progressLine summarizes a snapshot on one line.
func progressLine(p *downloader.ProgressSnapshot) string {
	return fmt.Sprintf("%s %s %s/%s %s %s %s eta %s",
		ProgressBar(p.Total.Percentage, 30),
		StyleSymbols["bullet"],
		utils.FormatBytes(uint64(p.Total.Downloaded)),
		utils.FormatBytes(uint64(p.Total.Filesize)),
		StyleSymbols["bullet"],
		utils.FormatSpeed(p.Speed),
		StyleSymbols["bullet"],
		utils.FormatETA(p.Time.ETA),
	)
}

func getTerminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}
