package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/pilot-net/hamon/engine/internal/notify"
	"github.com/pilot-net/hamon/pkg/types"
)

// Render builds the notification for a trigger. A cleared alarm gets its
// own wording and the time it was active.
func Render(t types.AlarmTrigger, cfg *types.AlarmConfiguration, user *types.User, now time.Time) notify.Message {
	var subject string
	var b strings.Builder

	name := user.Name
	if name == "" {
		name = user.Email
	}
	fmt.Fprintf(&b, "Hello %s,\n\n", name)

	if t.Cleared() {
		subject = fmt.Sprintf("Alarm cleared: %s is %s", cfg.Name, t.State.Label())
		fmt.Fprintf(&b, "Your alarm %q is back to %s.\n", cfg.Name, t.State.Label())
		if !t.PreviousStateSince.IsZero() {
			fmt.Fprintf(&b, "It was active for %s.\n", FormatDuration(t.TriggeredAt.Sub(t.PreviousStateSince)))
		}
	} else {
		subject = fmt.Sprintf("%s is %s", cfg.Name, t.State.Label())
		fmt.Fprintf(&b, "Your alarm %q changed from %s to %s.\n", cfg.Name, t.PreviousState.Label(), t.State.Label())
	}

	fmt.Fprintf(&b, "\nType: %s\nCategory: %s\nTriggered at: %s\n",
		cfg.Type, cfg.Category, t.TriggeredAt.UTC().Format(time.RFC1123))
	if delay := now.Sub(t.TriggeredAt); delay > time.Minute {
		fmt.Fprintf(&b, "Delivered %s after the change.\n", FormatDuration(delay))
	}

	return notify.Message{
		To:      user.Email,
		Subject: subject,
		Body:    b.String(),
	}
}

// FormatDuration renders d as days, hours, minutes and seconds, dropping
// zero units: "2d 3h", "1h 5m 10s", "45s".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "less than a second"
	}
	d = d.Truncate(time.Second)

	units := []struct {
		size   time.Duration
		suffix string
	}{
		{24 * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}
	var parts []string
	for _, u := range units {
		if n := d / u.size; n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
			d -= n * u.size
		}
	}
	return strings.Join(parts, " ")
}
