package main

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/jent/pkg/jent"
	"github.com/ja7ad/jent/pkg/types"
)

type rootOpts struct {
	osr                  int
	fips                 bool
	disableMemoryAccess  bool
	forceInternalTimer   bool
	disableInternalTimer bool
}

func (o rootOpts) flags() jent.Flags {
	var f jent.Flags
	if o.fips {
		f |= jent.FlagFIPSMode
	}
	if o.disableMemoryAccess {
		f |= jent.FlagDisableMemoryAccess
	}
	if o.forceInternalTimer {
		f |= jent.FlagForceInternalTimer
	}
	if o.disableInternalTimer {
		f |= jent.FlagDisableInternalTimer
	}
	return f
}

type row struct {
	At         time.Time `json:"time"`
	Bytes      int       `json:"bytes"`
	DurationMS float64   `json:"duration_ms"`
	RateBps    float64   `json:"rate_bytes_per_sec"`
	RateEMABps float64   `json:"rate_ema_bytes_per_sec"`
	HealthMask uint8     `json:"health_mask"`
}

func main() {
	var o rootOpts

	root := &cobra.Command{
		Use:   "jent",
		Short: "CPU-jitter true random number generator",
		Long: `jent harvests CPU execution-time jitter (cache misses, branch
mispredictions, DRAM refresh, interrupts) and conditions it through a
SHAKE256 sponge, gated by the NIST SP 800-90B health tests (RCT, APT, and
an optional Lag Predictor).

* GitHub: https://github.com/ja7ad/jent

Examples:
  jent selftest --fips
  jent read --bytes 64 | xxd
  jent bench --samples 20 --csv out.csv --json out.json`,
	}

	root.PersistentFlags().IntVar(&o.osr, "osr", 0, "oversampling rate (0 = library default)")
	root.PersistentFlags().BoolVar(&o.fips, "fips", false, "force FIPS-compliant health-test thresholds")
	root.PersistentFlags().BoolVar(&o.disableMemoryAccess, "disable-memory-access", false, "disable the memory-access workload")
	root.PersistentFlags().BoolVar(&o.forceInternalTimer, "force-sw-timer", false, "force the software free-running-counter timer")
	root.PersistentFlags().BoolVar(&o.disableInternalTimer, "disable-sw-timer", false, "forbid falling back to the software timer")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newSelftestCmd(&o))
	root.AddCommand(newReadCmd(&o))
	root.AddCommand(newBenchCmd(&o))

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the library version",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := jent.Version()
			fmt.Printf("%d.%d.%d\n", v>>16&0xff, v>>8&0xff, v&0xff)
			return nil
		},
	}
}

func newSelftestCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "run the startup self-test and report the chosen timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := jent.Init(o.osr, o.flags()); err != nil {
				slog.Error("self-test failed", "err", err)
				return err
			}
			slog.Info("self-test passed")
			fmt.Println("ok")
			return nil
		},
	}
}

func newReadCmd(o *rootOpts) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "read",
		Short: "read conditioned entropy and print it hex-encoded",
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("bytes must be > 0")
			}
			if err := jent.Init(o.osr, o.flags()); err != nil {
				slog.Error("self-test failed", "err", err)
				return err
			}
			ec, err := jent.Alloc(o.osr, o.flags())
			if err != nil {
				return err
			}
			defer ec.Close()

			buf := make([]byte, n)
			if _, err := jent.ReadSafe(&ec, buf); err != nil {
				slog.Error("read failed", "err", err)
				return err
			}
			fmt.Println(hex.EncodeToString(buf))
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "bytes", "n", 32, "number of bytes to read")
	return cmd
}

func newBenchCmd(o *rootOpts) *cobra.Command {
	var (
		samples  int
		readSize int
		csvPath  string
		jsonPath string
		htmlPath string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "sample entropy production rate over repeated reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(o, samples, readSize, csvPath, jsonPath, htmlPath)
		},
	}
	cmd.Flags().IntVarP(&samples, "samples", "s", 20, "number of reads to perform")
	cmd.Flags().IntVarP(&readSize, "bytes", "n", 32, "bytes requested per read")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write per-read rows to CSV file")
	cmd.Flags().StringVar(&jsonPath, "json", "", "write per-read rows to JSON file")
	cmd.Flags().StringVar(&htmlPath, "html", "", "write per-read rows and summary to HTML file")
	return cmd
}

func runBench(o *rootOpts, samples, readSize int, csvPath, jsonPath, htmlPath string) error {
	if samples <= 0 || readSize <= 0 {
		return fmt.Errorf("samples and bytes must be > 0")
	}
	if err := jent.Init(o.osr, o.flags()); err != nil {
		slog.Error("self-test failed", "err", err)
		return err
	}
	ec, err := jent.Alloc(o.osr, o.flags())
	if err != nil {
		return err
	}
	defer ec.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tBYTES\tDURATION (ms)\tRATE (B/s)\tRATE EMA (B/s)\tHEALTH")
	fmt.Fprintln(tw, "----\t-----\t-------------\t----------\t--------------\t------")

	var (
		csvW  *csv.Writer
		csvF  *os.File
		jsonF *os.File
		htmlF *os.File
		rows  []row
	)

	if csvPath != "" {
		if err := os.MkdirAll(filepath.Dir(csvPath), 0o755); err == nil {
			if f, er := os.Create(csvPath); er == nil {
				csvF = f
				csvW = csv.NewWriter(f)
				_ = csvW.Write([]string{"time", "bytes", "duration_ms", "rate_bytes_per_sec", "rate_ema_bytes_per_sec", "health_mask"})
				csvW.Flush()
			}
		}
	}
	if jsonPath != "" {
		if err := os.MkdirAll(filepath.Dir(jsonPath), 0o755); err == nil {
			jsonF, _ = os.Create(jsonPath)
			if jsonF != nil {
				_, _ = jsonF.WriteString("[\n")
			}
		}
	}
	if htmlPath != "" {
		if err := os.MkdirAll(filepath.Dir(htmlPath), 0o755); err == nil {
			htmlF, _ = os.Create(htmlPath)
		}
	}

	buf := make([]byte, readSize)
	writeN := 0

	for i := 0; i < samples; i++ {
		start := time.Now()
		_, rerr := jent.ReadSafe(&ec, buf)
		dur := time.Since(start)
		var mask uint8
		if rerr != nil {
			var hf *jent.HealthFailureError
			if errors.As(rerr, &hf) {
				mask = uint8(hf.Mask)
			}
			slog.Warn("read error", "err", rerr)
			continue
		}

		st := ec.Stats()
		r := row{
			At:         start,
			Bytes:      readSize,
			DurationMS: float64(dur.Microseconds()) / 1000,
			RateBps:    float64(readSize) / dur.Seconds(),
			RateEMABps: st.BytesPerSecEMA,
			HealthMask: mask,
		}
		rows = append(rows, r)
		fmt.Fprintf(tw, "%s\t%d\t%.3f\t%.1f\t%.1f\t%d\n",
			r.At.Format("2006-01-02 15:04:05.000"), r.Bytes, r.DurationMS, r.RateBps, r.RateEMABps, r.HealthMask)
		tw.Flush()

		if csvW != nil {
			_ = csvW.Write([]string{
				r.At.Format(time.RFC3339Nano),
				strconv.Itoa(r.Bytes),
				strconv.FormatFloat(r.DurationMS, 'f', 3, 64),
				strconv.FormatFloat(r.RateBps, 'f', 1, 64),
				strconv.FormatFloat(r.RateEMABps, 'f', 1, 64),
				strconv.Itoa(int(r.HealthMask)),
			})
			csvW.Flush()
		}
		if jsonF != nil {
			b, _ := json.MarshalIndent(r, "  ", "  ")
			if writeN > 0 {
				_, _ = jsonF.WriteString(",\n")
			}
			_, _ = jsonF.Write(b)
			writeN++
		}
	}

	if csvW != nil {
		csvW.Flush()
	}
	if csvF != nil {
		_ = csvF.Close()
	}
	if jsonF != nil {
		_, _ = jsonF.WriteString("\n]\n")
		_ = jsonF.Close()
	}
	if htmlF != nil {
		if err := writeHTML(htmlF, rows); err != nil {
			slog.Error("write html", "err", err)
		}
		_ = htmlF.Close()
	}

	var sum float64
	for _, r := range rows {
		sum += r.RateBps
	}
	avg := 0.0
	if len(rows) > 0 {
		avg = sum / float64(len(rows))
	}
	var total types.Bytes
	for _, r := range rows {
		total += types.Bytes(r.Bytes)
	}

	fmt.Println()
	fmt.Printf("jent bench: %d/%d reads succeeded, %s total, avg rate %s/s\n",
		len(rows), samples, total.Humanized(), types.Bytes(avg).Humanized())
	return nil
}

func writeHTML(f *os.File, rows []row) error {
	var buf bytes.Buffer
	if err := benchTpl.Execute(&buf, rows); err != nil {
		return err
	}
	_, err := f.Write(buf.Bytes())
	return err
}

var benchTpl = template.Must(template.New("bench").Parse(`<!doctype html>
<html lang="en"><meta charset="utf-8">
<title>jent bench report</title>
<style>
body{font-family:system-ui,Segoe UI,Roboto,Helvetica,Arial,sans-serif;margin:20px}
table{border-collapse:collapse;width:100%;font-size:14px}
th,td{border:1px solid #ddd;padding:6px 8px;text-align:right}
th:first-child,td:first-child{text-align:left}
</style>
<h1>jent bench report</h1>
<table>
<thead><tr><th>time</th><th>bytes</th><th>duration (ms)</th><th>rate (B/s)</th><th>rate EMA (B/s)</th><th>health</th></tr></thead>
<tbody>
{{range .}}
<tr>
<td style="text-align:left">{{.At.Format "2006-01-02 15:04:05.000"}}</td>
<td>{{.Bytes}}</td>
<td>{{printf "%.3f" .DurationMS}}</td>
<td>{{printf "%.1f" .RateBps}}</td>
<td>{{printf "%.1f" .RateEMABps}}</td>
<td>{{.HealthMask}}</td>
</tr>
{{end}}
</tbody>
</table>
</html>`))
