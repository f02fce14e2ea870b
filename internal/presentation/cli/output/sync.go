package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jbctechsolutions/schoolsync/internal/application/events"
	"github.com/jbctechsolutions/schoolsync/internal/application/syncengine"
	"github.com/jbctechsolutions/schoolsync/internal/domain/offline"
)

// OutcomeLabel renders a write outcome: done, queued or failed.
func (f *Formatter) OutcomeLabel(o offline.Outcome) string {
	switch o {
	case offline.OutcomeDone:
		return f.Colorize(string(o), ColorGreen)
	case offline.OutcomeQueued:
		return f.Colorize(string(o), ColorYellow)
	default:
		return f.Colorize(string(o), ColorRed)
	}
}

// OnlineLabel renders the connectivity state.
func (f *Formatter) OnlineLabel(online bool) string {
	if online {
		return f.Colorize("online", ColorGreen)
	}
	return f.Colorize("offline", ColorYellow)
}

// Result writes a call result. Text output leads with a line naming where the
// data came from, then the payload.
func (f *Formatter) Result(res *offline.Result) error {
	if f.IsJSON() {
		return f.JSON(res)
	}

	switch {
	case res.FromCache && res.Stale:
		_ = f.Warning("%s", res.Message)
	case res.FromCache:
		_ = f.Info("%s", res.Message)
	case res.Offline:
		_ = f.Warning("%s", res.Message)
	}
	return f.RawJSON(res.Data)
}

// WriteResult writes the outcome of a mutating call followed by its payload.
func (f *Formatter) WriteResult(method offline.Method, path string, res *offline.Result) error {
	if f.IsJSON() {
		return f.JSON(struct {
			Outcome offline.Outcome `json:"outcome"`
			*offline.Result
		}{res.Outcome(), res})
	}

	if err := f.Println("%s %s %s", f.OutcomeLabel(res.Outcome()), method, path); err != nil {
		return err
	}
	if res.Message != "" {
		_ = f.Println("  %s", f.Dim(res.Message))
	}
	return f.RawJSON(res.Data)
}

// RunSummary writes the result of a drain.
func (f *Formatter) RunSummary(run *syncengine.RunSummary) error {
	if f.IsJSON() {
		return f.JSON(run)
	}
	if run == nil {
		return f.Info("Nothing to sync")
	}
	if run.Failed > 0 || run.Remaining > 0 {
		_ = f.Warning("Synced %d, dropped %d, %d still queued", run.Synced, run.Failed, run.Remaining)
	} else {
		_ = f.Success("Synced %d change(s)", run.Synced)
	}
	return f.Item("Duration", run.Duration.Round(time.Millisecond).String())
}

// Event writes one sync lifecycle notification as a single line.
func (f *Formatter) Event(e events.Event) error {
	if f.IsJSON() {
		f.mu.Lock()
		defer f.mu.Unlock()
		return jsonLine(f.w, e)
	}

	stamp := f.Dim(time.Now().Format("15:04:05"))
	switch e.Type {
	case events.TypeOnline, events.TypeSyncComplete:
		return f.Println("%s %s", stamp, f.Colorize(e.String(), ColorGreen))
	case events.TypeOffline, events.TypeSyncItemFailed:
		return f.Println("%s %s", stamp, f.Colorize(e.String(), ColorYellow))
	default:
		return f.Println("%s %s", stamp, e.String())
	}
}

// Mutations writes the queue contents as a table.
func (f *Formatter) Mutations(items []*offline.QueuedMutation) error {
	if f.IsJSON() {
		if items == nil {
			items = []*offline.QueuedMutation{}
		}
		return f.JSON(items)
	}
	if len(items) == 0 {
		return f.Info("Queue is empty")
	}

	rows := make([][]string, 0, len(items))
	for _, m := range items {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			string(m.Method),
			m.URL,
			string(m.Status),
			strconv.Itoa(m.Retries),
			m.CreatedAt.Local().Format(time.DateTime),
			truncate(m.LastError, 40),
		})
	}

	return f.Table([]string{"ID", "METHOD", "URL", "STATUS", "RETRIES", "QUEUED AT", "LAST ERROR"}, rows)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func jsonLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
