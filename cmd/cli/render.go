package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sho7650/media-window/internal/config"
	"github.com/sho7650/media-window/internal/pagination"
	"github.com/sho7650/media-window/internal/window"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	openStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderWindow draws the items around the current index with their handle
// state, followed by the cursor line.
func renderWindow(step int, snap window.Snapshot[demoPayload], cursor pagination.Cursor, span int) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("step %d  index %d/%d  seq %d", step, snap.CurrentIndex, len(snap.Items), snap.Seq)))
	b.WriteString("\n")

	lo := max(0, snap.CurrentIndex-span)
	hi := min(len(snap.Items)-1, snap.CurrentIndex+span)
	for i := lo; i <= hi; i++ {
		item := snap.Items[i]
		_, open := snap.Handles[item.ID]
		line := fmt.Sprintf("%3d  %-10s %-12s likes %3d", i, shortID(item.ID), item.Payload.Title, item.Payload.Likes)
		switch {
		case i == snap.CurrentIndex && open:
			line = currentStyle.Render("> " + line + "  [open]")
		case i == snap.CurrentIndex:
			line = currentStyle.Render("> " + line + "  [pending]")
		case open:
			line = openStyle.Render("  " + line + "  [open]")
		default:
			line = faintStyle.Render("  " + line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	state := fmt.Sprintf("page %d  fetching %t  has_more %t  playing %t  muted %t",
		cursor.Page, cursor.IsFetching, cursor.HasMore, snap.IsPlaying, snap.IsMuted)
	b.WriteString(faintStyle.Render(state))
	return boxStyle.Render(b.String()) + "\n"
}

// renderFeed draws the visibility state of a feed step.
func renderFeed(step int, visible, playing, active []string) string {
	lines := []string{
		headerStyle.Render(fmt.Sprintf("step %d", step)),
		"visible  " + joinIDs(visible),
		currentStyle.Render("playing  " + joinIDs(playing)),
		openStyle.Render("active   " + joinIDs(active)),
	}
	return boxStyle.Render(strings.Join(lines, "\n")) + "\n"
}

func renderConfig(cfg *config.Config) string {
	w := cfg.Window
	lines := []string{
		fmt.Sprintf("window      keep_behind=%d preload_ahead=%d max_concurrent_opens=%d single_item_mode=%t dispose_grace=%s",
			w.KeepBehind, w.PreloadAhead, w.MaxConcurrentOpens, w.SingleItemMode, w.DisposeGraceDuration()),
		fmt.Sprintf("visibility  hide_grace=%s visible_threshold=%.2f",
			cfg.Visibility.HideGraceDuration(), cfg.Visibility.VisibleThreshold),
		fmt.Sprintf("pagination  feed=%s fetch_threshold=%d page_size=%d",
			cfg.Pagination.Feed, cfg.Pagination.FetchThreshold, cfg.Pagination.PageSize),
		fmt.Sprintf("storage     path=%s", cfg.Storage.Path),
		fmt.Sprintf("logging     level=%s format=%s", cfg.Logging.Level, cfg.Logging.Format),
	}
	return strings.Join(lines, "\n") + "\n"
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	short := make([]string, len(ids))
	for i, id := range ids {
		short[i] = shortID(id)
	}
	return strings.Join(short, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
