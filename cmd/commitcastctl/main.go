// commitcastctl drives the commitcast backend from a terminal: inspect the
// quota, list the scheduled-post queue, schedule, cancel and reschedule.
// It consumes the client package the same way the dashboard does.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/commitcast/commitcast/backend/client"
)

const usageText = `Usage: commitcastctl [flags] <command> [command flags] [args]

Commands:
  usage                          show the quota snapshot
  stats                          show posting stats
  scheduled                      list the scheduled-post queue
  schedule -content C -at T      queue a post for time T
  cancel <post-id>               cancel a pending post
  reschedule -at T <post-id>     move a pending post to time T

Times are RFC3339 ("2026-08-26T09:30:00Z") or epoch seconds.

Flags:
  -base URL     API base URL (default $COMMITCAST_API or http://localhost:18911)
  -token T      bearer token (default $COMMITCAST_TOKEN)
  -user ID      user id (default $COMMITCAST_USER)
  -timeout D    request timeout (default 15s)
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("commitcastctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usageText) }
	base := fs.String("base", os.Getenv("COMMITCAST_API"), "API base URL")
	token := fs.String("token", os.Getenv("COMMITCAST_TOKEN"), "bearer token")
	user := fs.String("user", os.Getenv("COMMITCAST_USER"), "user id")
	timeout := fs.Duration("timeout", 15*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(out, usageText)
		return errors.New("a command is required")
	}

	api := client.NewAPI(*base)
	api.Token = *token

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "usage":
		return showUsage(ctx, out, api, *user)
	case "stats":
		return showStats(ctx, out, api, *user)
	case "scheduled", "list":
		return listScheduled(ctx, out, api, *user)
	case "schedule":
		return schedulePost(ctx, out, api, *user, cmdArgs)
	case "cancel":
		return cancelPost(ctx, out, api, *user, cmdArgs)
	case "reschedule":
		return reschedulePost(ctx, out, api, *user, cmdArgs)
	default:
		fmt.Fprint(out, usageText)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func requireUser(user string) error {
	if user == "" {
		return errors.New("a user id is required (-user or COMMITCAST_USER)")
	}
	return nil
}

func showUsage(ctx context.Context, out io.Writer, api *client.API, user string) error {
	if err := requireUser(user); err != nil {
		return err
	}
	tracker := client.NewUsageTracker(api)
	snap, err := tracker.Fetch(ctx, user)
	if err != nil {
		return err
	}
	state := tracker.State()

	fmt.Fprintf(out, "user:       %s\n", user)
	fmt.Fprintf(out, "tier:       %s\n", snap.Tier)
	if state.IsUnlimited {
		fmt.Fprintf(out, "posts:      %d today (unlimited)\n", snap.PostsToday)
		fmt.Fprintf(out, "scheduled:  %d (unlimited)\n", snap.ScheduledCount)
		return nil
	}
	fmt.Fprintf(out, "posts:      %d/%d today (%d remaining)\n", snap.PostsToday, snap.PostsLimit, snap.PostsRemaining)
	fmt.Fprintf(out, "scheduled:  %d/%d (%d remaining)\n", snap.ScheduledCount, snap.ScheduledLimit, snap.ScheduledRemaining)
	fmt.Fprintf(out, "resets in:  %s\n", client.FormatRemaining(snap.ResetsInSeconds))
	switch {
	case state.IsExhausted:
		fmt.Fprintln(out, "daily limit reached")
	case state.IsLow:
		fmt.Fprintln(out, "running low on posts today")
	}
	return nil
}

func showStats(ctx context.Context, out io.Writer, api *client.API, user string) error {
	if err := requireUser(user); err != nil {
		return err
	}
	stats, err := api.UsageStats(ctx, user)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "generated:  %d\n", stats.PostsGenerated)
	fmt.Fprintf(out, "published:  %d\n", stats.PostsPublished)
	fmt.Fprintf(out, "drafts:     %d\n", stats.DraftPosts)
	fmt.Fprintf(out, "this week:  %d (last week %d, %+d%%)\n", stats.PostsThisWeek, stats.PostsLastWeek, stats.GrowthPercentage)
	fmt.Fprintf(out, "this month: %d\n", stats.PostsThisMonth)
	return nil
}

func listScheduled(ctx context.Context, out io.Writer, api *client.API, user string) error {
	if err := requireUser(user); err != nil {
		return err
	}
	manager := client.NewScheduleManager(api)
	posts, err := manager.List(ctx, user)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		fmt.Fprintln(out, "no scheduled posts")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tWHEN\tCONTENT")
	for _, p := range posts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Status, formatWhen(p.ScheduledTime), summary(p.PostContent))
	}
	return w.Flush()
}

func schedulePost(ctx context.Context, out io.Writer, api *client.API, user string, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(out)
	content := fs.String("content", "", "post content")
	at := fs.String("at", "", "publish time (RFC3339 or epoch seconds)")
	image := fs.String("image", "", "image URL to attach")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(user); err != nil {
		return err
	}
	when, err := parseWhen(*at)
	if err != nil {
		return err
	}

	manager := client.NewScheduleManager(api)
	post, err := manager.Submit(ctx, user, *content, *image, when)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "queued post %d for %s\n", post.ID, formatWhen(post.ScheduledTime))
	return nil
}

func cancelPost(ctx context.Context, out io.Writer, api *client.API, user string, args []string) error {
	if err := requireUser(user); err != nil {
		return err
	}
	id, err := postIDArg(args)
	if err != nil {
		return err
	}
	manager := client.NewScheduleManager(api)
	if err := manager.Cancel(ctx, user, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "cancelled post %d\n", id)
	return nil
}

func reschedulePost(ctx context.Context, out io.Writer, api *client.API, user string, args []string) error {
	fs := flag.NewFlagSet("reschedule", flag.ContinueOnError)
	fs.SetOutput(out)
	at := fs.String("at", "", "new publish time (RFC3339 or epoch seconds)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(user); err != nil {
		return err
	}
	id, err := postIDArg(fs.Args())
	if err != nil {
		return err
	}
	when, err := parseWhen(*at)
	if err != nil {
		return err
	}

	manager := client.NewScheduleManager(api)
	if err := manager.Reschedule(ctx, user, id, when); err != nil {
		return err
	}
	fmt.Fprintf(out, "rescheduled post %d to %s\n", id, when.UTC().Format(time.RFC3339))
	return nil
}

func postIDArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New("exactly one post id is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid post id %q", args[0])
	}
	return id, nil
}

// parseWhen accepts RFC3339 or epoch seconds.
func parseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("a time is required (-at)")
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q (want RFC3339 or epoch seconds)", s)
	}
	return t, nil
}

func formatWhen(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}

// summary flattens content to one line capped at 60 runes for the table.
func summary(content string) string {
	if i := strings.IndexAny(content, "\r\n"); i >= 0 {
		content = content[:i] + "…"
	}
	runes := []rune(content)
	if len(runes) > 60 {
		return string(runes[:59]) + "…"
	}
	return content
}
