package app

import (
	"context"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/ydb-platform/ydb-go-topic/internal/topic/reader"
)

// renderDashboard draws a single paragraph of reader stats and a buffer
// occupancy gauge, refreshing on a tick until the user quits or ctx is
// cancelled.
func renderDashboard(ctx context.Context, r *reader.Reader, refresh time.Duration) error {
	if err := ui.Init(); err != nil {
		return err
	}
	defer ui.Close()

	stats := widgets.NewParagraph()
	stats.Title = "ydbtopic-top"
	stats.SetRect(0, 0, 60, 8)

	gauge := widgets.NewGauge()
	gauge.Title = "buffer occupancy"
	gauge.SetRect(0, 8, 60, 11)
	gauge.BarColor = ui.ColorGreen

	redraw := func() {
		s := r.Stats()
		stats.Text = formatStats(s)
		gauge.Percent = occupancyPercent(s)
		ui.Render(stats, gauge)
	}
	redraw()

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	events := ui.PollEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			redraw()
		}
	}
}

// occupancyPercent estimates buffer fill against the configured cap. Pending
// commits are the only proxy for "in use" exposed by Stats, since free bytes
// alone don't reveal the configured ceiling.
func occupancyPercent(s reader.Stats) int {
	if s.BufferedBatchCount == 0 {
		return 0
	}
	pct := s.PendingCommitCount * 100 / (s.BufferedBatchCount + s.PendingCommitCount)
	if pct > 100 {
		return 100
	}
	return pct
}
