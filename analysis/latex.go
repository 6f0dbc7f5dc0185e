package analysis

import (
	"fmt"
	"os"
	"strings"
)

// ExportLaTeXTable writes a tabular comparison of the reports.
func ExportLaTeXTable(reports []Report, path string) error {
	var b strings.Builder

	b.WriteString("\\begin{table}[ht]\n\\centering\n")
	b.WriteString("\\begin{tabular}{lrrrrr}\n\\hline\n")
	b.WriteString("Strategy & Throughput (pps) & Latency (ms) & " +
		"Loss (\\%) & Queue (pkts) & Jitter (ms) \\\\\n\\hline\n")

	for _, r := range reports {
		fmt.Fprintf(&b, "%s & %.1f & %.2f & %.2f & %.1f & %.2f \\\\\n",
			latexEscape(r.Strategy), r.ThroughputPPS, r.MeanLatencyMs,
			r.LossRate*100, r.MeanQueueLen, r.JitterMs)
	}

	b.WriteString("\\hline\n\\end{tabular}\n")
	b.WriteString("\\caption{AQM strategy comparison}\n")
	b.WriteString("\\label{tab:strategy_comparison}\n\\end{table}\n")

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ExportLaTeXDetailed writes one description block per strategy.
func ExportLaTeXDetailed(reports []Report, path string) error {
	var b strings.Builder

	for _, r := range reports {
		fmt.Fprintf(&b, "\\subsection{%s}\n", latexEscape(r.Strategy))
		b.WriteString("\\begin{description}\n")
		fmt.Fprintf(&b, "\\item[Runs] %d\n", r.Runs)
		fmt.Fprintf(&b, "\\item[Throughput] %.1f packets/s\n", r.ThroughputPPS)
		fmt.Fprintf(&b, "\\item[Mean latency] %.2f\\,ms "+
			"(p95 %.2f\\,ms)\n", r.MeanLatencyMs, r.P95LatencyMs)
		fmt.Fprintf(&b, "\\item[Loss rate] %.2f\\%%\n", r.LossRate*100)
		fmt.Fprintf(&b, "\\item[Mean queue] %.1f packets "+
			"(peak %.1f)\n", r.MeanQueueLen, r.PeakQueueLen)
		fmt.Fprintf(&b, "\\item[Jitter] %.2f\\,ms\n", r.JitterMs)
		b.WriteString("\\end{description}\n\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ExportLaTeXFigure writes a pgfplots bar chart of mean latency per
// strategy.
func ExportLaTeXFigure(reports []Report, path, caption, label string) error {
	var b strings.Builder

	b.WriteString("\\begin{figure}[ht]\n\\centering\n")
	b.WriteString("\\begin{tikzpicture}\n\\begin{axis}[\n")
	b.WriteString("  ybar,\n  ylabel={Mean latency (ms)},\n")
	b.WriteString("  symbolic x coords={")

	names := make([]string, len(reports))
	for i, r := range reports {
		names[i] = latexEscape(r.Strategy)
	}
	b.WriteString(strings.Join(names, ","))
	b.WriteString("},\n  xtick=data,\n  x tick label style={rotate=45},\n]\n")

	b.WriteString("\\addplot coordinates {")
	for _, r := range reports {
		fmt.Fprintf(&b, "(%s,%.2f) ", latexEscape(r.Strategy), r.MeanLatencyMs)
	}
	b.WriteString("};\n")

	b.WriteString("\\end{axis}\n\\end{tikzpicture}\n")
	fmt.Fprintf(&b, "\\caption{%s}\n\\label{%s}\n", caption, label)
	b.WriteString("\\end{figure}\n")

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func latexEscape(s string) string {
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "&", "\\&")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")

	return s
}
