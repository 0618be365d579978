package report

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"

	"github.com/arkilian/qgate/pkg/types"
)

// WriteTable renders the KPIs and the phase-wise usage as a text table.
func WriteTable(w io.Writer, title string, avgLatencySec, avgThroughput float64, u types.Usage) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)

	// Don't uppercase the header or footer values.
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault

	t.AppendHeader(table.Row{"metric", "pre", "during", "post"})
	for _, r := range []struct {
		name string
		p    types.Phase
		f    string
	}{
		{"memory (MB)", u.MemoryMB, "%.0f"},
		{"cpu (%)", u.CPU, "%.0f"},
		{"threads", u.Threads, "%.0f"},
		{"open fds", u.FDs, "%.0f"},
		{"network (KB/s)", u.NetKBps, "%.1f"},
	} {
		t.AppendRow(table.Row{r.name, fmt.Sprintf(r.f, r.p.Pre), fmt.Sprintf(r.f, r.p.During), fmt.Sprintf(r.f, r.p.Post)})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("avg latency %.2f ms", avgLatencySec*1000),
		fmt.Sprintf("avg throughput %.2f rows/s", avgThroughput),
		"", "",
	})
	t.Render()
}

func writeTableFile(path, title string, avgLatencySec, avgThroughput float64, u types.Usage) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	WriteTable(f, title, avgLatencySec, avgThroughput, u)
	return f.Close()
}
