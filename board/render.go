package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"taskboard/board/boardcache"
	"taskboard/task-api/domain"
)

var columnTitles = map[domain.Status]string{
	domain.StatusTodo:       "To Do",
	domain.StatusInProgress: "In Progress",
	domain.StatusDone:       "Done",
}

var columnColors = map[domain.Status]*color.Color{
	domain.StatusTodo:       color.New(color.FgCyan, color.Bold),
	domain.StatusInProgress: color.New(color.FgYellow, color.Bold),
	domain.StatusDone:       color.New(color.FgGreen, color.Bold),
}

func renderBoard(w io.Writer, snap boardcache.Snapshot) {
	for i, st := range domain.Columns {
		if i > 0 {
			fmt.Fprintln(w)
		}
		tasks := snap.Column(st)
		columnColors[st].Fprintf(w, "%s (%d)\n", columnTitles[st], len(tasks))
		if len(tasks) == 0 {
			fmt.Fprintln(w, "  -")
		}
		for idx, t := range tasks {
			fmt.Fprintf(w, "  %d. %s\n", idx, taskLine(t))
		}
	}
}

func taskLine(t domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", t.Title, t.Priority, color.HiBlackString(t.ID))
	if t.Assignee != nil && *t.Assignee != "" {
		fmt.Fprintf(&b, " @%s", *t.Assignee)
	}
	if t.DueDate != nil {
		fmt.Fprintf(&b, " due %s", t.DueDate.Format("2006-01-02"))
	}
	if len(t.Subtasks) > 0 {
		done := 0
		for _, st := range t.Subtasks {
			if st.Completed {
				done++
			}
		}
		fmt.Fprintf(&b, " %d/%d", done, len(t.Subtasks))
	}
	if t.Comments > 0 {
		fmt.Fprintf(&b, " %d comments", t.Comments)
	}
	return b.String()
}

func renderActivities(w io.Writer, t domain.Task) {
	color.New(color.Bold).Fprintf(w, "%s (%s)\n", t.Title, t.Status)
	for _, a := range t.Activities {
		actor := "anonymous"
		if a.Actor != nil {
			actor = *a.Actor
		}
		fmt.Fprintf(w, "  #%d %s %s by %s %s\n", a.Seq, a.CreatedAt.Format("2006-01-02 15:04:05"), a.Action, actor, string(a.Payload))
	}
}
