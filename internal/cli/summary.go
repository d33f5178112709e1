package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/os3/pkg/model"
)

// printReport writes a run summary followed by its task table.
func printReport(w io.Writer, run *model.Run, events []model.Event) {
	elapsed := "?"
	if run.CompletedAt != nil {
		elapsed = run.CompletedAt.Sub(run.CreatedAt).Round(time.Microsecond).String()
	}
	fmt.Fprintf(w, "\nrun %s %s in %s, %s context switches\n",
		run.ID, run.State, elapsed, humanize.Comma(int64(run.Switches)))
	if run.State != model.RunStateCompleted && run.HaltReason != "" {
		fmt.Fprintf(w, "halt: %s\n", run.HaltReason)
	}
	if order := dispatchOrder(events); len(order) > 0 {
		fmt.Fprintf(w, "dispatch order: %s\n", order)
	}
	fmt.Fprintln(w)
	printTasks(w, run.Tasks)
}

func printTasks(w io.Writer, tasks []model.TaskSnapshot) {
	fmt.Fprintf(w, "%-4s  %-16s  %-8s  %-5s  %-10s  %s\n", "ID", "NAME", "STATUS", "EXIT", "STARTED", "SYSCALLS")
	fmt.Fprintf(w, "%-4s  %-16s  %-8s  %-5s  %-10s  %s\n", "--", "----", "------", "----", "-------", "--------")
	for _, t := range tasks {
		exit := "-"
		if t.ExitCode != nil {
			exit = strconv.Itoa(*t.ExitCode)
		}
		started := "never"
		if t.Started() {
			started = "+" + t.StartOffset().Round(time.Microsecond).String()
		}
		fmt.Fprintf(w, "%-4d  %-16s  %-8s  %-5s  %-10s  %s\n",
			t.ID, t.Name, t.Status, exit, started, formatCounts(t.SyscallCount))
	}
}

// formatCounts renders syscall counters as "write=3 yield=2" in id order.
func formatCounts(counts map[model.SyscallID]uint32) string {
	if len(counts) == 0 {
		return "-"
	}
	ids := make([]model.SyscallID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s=%s", id, humanize.Comma(int64(counts[id])))
	}
	return strings.Join(parts, " ")
}

// dispatchOrder returns the slots given the processor, e.g. "0 1 2 0".
func dispatchOrder(events []model.Event) string {
	var parts []string
	for _, ev := range events {
		if ev.Kind == model.EventDispatch {
			parts = append(parts, strconv.Itoa(ev.To))
		}
	}
	return strings.Join(parts, " ")
}
