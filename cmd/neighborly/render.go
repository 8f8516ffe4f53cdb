package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/feed"
)

const (
	clearScreen     = "\033[H\033[2J"
	timestampLayout = "Jan 2 15:04"
)

func renderFeed(w io.Writer, loaded feed.Feed) {
	if len(loaded.Posts) == 0 {
		fmt.Fprintln(w, "No posts match.")
		return
	}
	for index, entry := range loaded.Posts {
		if index > 0 {
			fmt.Fprintln(w)
		}
		header := fmt.Sprintf("%s · %s · %s", entry.Nickname, entry.Neighborhood, entry.CreatedAt.Local().Format(timestampLayout))
		if labels := entry.Badges.Labels(); len(labels) > 0 {
			header += " [" + strings.Join(labels, ", ") + "]"
		}
		fmt.Fprintln(w, header)
		fmt.Fprintf(w, "  offers: %s\n", entry.Offer)
		fmt.Fprintf(w, "  needs:  %s\n", entry.Need)
		fmt.Fprintf(w, "  id: %s · %s\n", entry.ID, pluralize(entry.ReplyCount, "reply", "replies"))
		for _, reply := range entry.Replies {
			fmt.Fprintf(w, "    ↳ %s (%s): %s\n", reply.Nickname, reply.Neighborhood, reply.Content)
		}
	}
	if loaded.StatsScope == feed.StatsScopePage {
		fmt.Fprintln(w, "\nBadges reflect loaded posts only.")
	}
}

func pluralize(count int64, singular, plural string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %s", count, plural)
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
