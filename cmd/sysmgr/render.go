package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/sysmgr/internal/batch"
	"github.com/breeze-rmm/sysmgr/internal/config"
	"github.com/breeze-rmm/sysmgr/internal/engine"
	"github.com/breeze-rmm/sysmgr/internal/health"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/status"
)

type renderer interface {
	View(v engine.View) error
	Report(r *batch.Report, state inventory.ViewState) error
	Config(cfg *config.Config) error
	Health(overall health.Status, checks []health.Check) error
}

func newRenderer(format string, w io.Writer) renderer {
	switch strings.ToLower(format) {
	case "json":
		return encodeRenderer{w: w, encode: encodeJSON}
	case "yaml":
		return encodeRenderer{w: w, encode: encodeYAML}
	}
	return tableRenderer{w: w}
}

// viewDoc and reportDoc are the shapes written by the json and yaml formats.
type viewDoc struct {
	State inventory.ViewState `json:"state" yaml:"state"`
	Items []itemDoc           `json:"items" yaml:"items"`
}

type itemDoc struct {
	Selected bool             `json:"selected" yaml:"selected"`
	Record   inventory.Record `json:"record" yaml:"record"`
}

type reportDoc struct {
	Report    *batch.Report       `json:"report" yaml:"report"`
	Succeeded int                 `json:"succeeded" yaml:"succeeded"`
	Failed    int                 `json:"failed" yaml:"failed"`
	State     inventory.ViewState `json:"state" yaml:"state"`
}

type encodeRenderer struct {
	w      io.Writer
	encode func(w io.Writer, v any) error
}

func (r encodeRenderer) View(v engine.View) error {
	doc := viewDoc{State: v.State, Items: make([]itemDoc, len(v.Rows))}
	for i, row := range v.Rows {
		doc.Items[i] = itemDoc{Selected: row.Selected, Record: row.Record}
	}
	return r.encode(r.w, doc)
}

func (r encodeRenderer) Report(rep *batch.Report, state inventory.ViewState) error {
	return r.encode(r.w, reportDoc{Report: rep, Succeeded: rep.Succeeded(), Failed: rep.Failed(), State: state})
}

func (r encodeRenderer) Config(cfg *config.Config) error {
	return r.encode(r.w, cfg)
}

type healthDoc struct {
	Status health.Status  `json:"status" yaml:"status"`
	Checks []health.Check `json:"checks" yaml:"checks"`
}

func (r encodeRenderer) Health(overall health.Status, checks []health.Check) error {
	return r.encode(r.w, healthDoc{Status: overall, Checks: checks})
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

type tableRenderer struct {
	w io.Writer
}

func (r tableRenderer) View(v engine.View) error {
	tw := tabwriter.NewWriter(r.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(append([]string{" "}, columns(v.State.Category)...), "\t"))
	for _, row := range v.Rows {
		mark := " "
		if row.Selected {
			mark = "*"
		}
		fmt.Fprintln(tw, strings.Join(append([]string{mark}, cells(row.Record)...), "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(r.w, v.State.String())
	return err
}

func columns(c inventory.Category) []string {
	switch c {
	case inventory.Services:
		return []string{"NAME", "DISPLAY NAME", "STATUS", "START TYPE", "PUBLISHER", "DESCRIPTION"}
	case inventory.Tasks:
		return []string{"NAME", "PATH", "STATE", "LAST RUN", "NEXT RUN", "AUTHOR"}
	case inventory.Processes:
		return []string{"PID", "NAME", "WINDOW", "MEMORY (MB)", "CPU %", "UPTIME", "PATH"}
	}
	return []string{"KEY", "LABEL"}
}

func cells(rec inventory.Record) []string {
	switch r := rec.(type) {
	case inventory.ServiceRecord:
		return []string{r.Name, r.DisplayName, string(r.Status), string(r.StartType), r.Publisher, oneLine(r.Description)}
	case inventory.TaskRecord:
		return []string{r.Name, r.Path, string(r.State), r.LastRunText(), r.NextRunText(), r.Author}
	case inventory.ProcessRecord:
		return []string{r.Key(), r.Name, r.WindowTitle, r.MemoryMB(), r.CPUText(), r.Uptime, r.FilePath}
	}
	return []string{rec.Key(), rec.Label()}
}

// oneLine keeps multi-line descriptions from breaking table rows.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (r tableRenderer) Report(rep *batch.Report, state inventory.ViewState) error {
	tw := tabwriter.NewWriter(r.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tRESULT\tTIME")
	for _, o := range rep.Outcomes {
		result := "ok"
		if o.Err != nil {
			result = o.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Label, result, o.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(r.w, "%s\n%s\n", rep, state)
	return err
}

func (r tableRenderer) Config(cfg *config.Config) error {
	return encodeYAML(r.w, cfg)
}

func (r tableRenderer) Health(overall health.Status, checks []health.Check) error {
	tw := tabwriter.NewWriter(r.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tSTATUS\tSINCE\tMESSAGE")
	for _, c := range checks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Status, c.Since.Format(time.TimeOnly), c.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(r.w, "overall: %s\n", overall)
	return err
}

// statusPrinter writes status lines for the operator. Batches report from
// worker goroutines, so writes are serialised.
type statusPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newStatusPrinter(w io.Writer) *statusPrinter {
	return &statusPrinter{w: w}
}

func (p *statusPrinter) Report(_ context.Context, msg status.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := ""
	switch msg.Level {
	case status.LevelError:
		prefix = "error: "
	case status.LevelWarn:
		prefix = "warning: "
	}
	fmt.Fprintf(p.w, "%s%s\n", prefix, msg.Text)
}
