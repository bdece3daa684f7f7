// Package render prints snapshot diffs and listings for a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hazyhaar/recsnap/snapshot"
)

// Printer writes human-readable output to w.
type Printer struct {
	w io.Writer

	added   *color.Color
	removed *color.Color
	changed *color.Color
	header  *color.Color
}

// Option configures a Printer.
type Option func(*Printer)

// WithColor forces color on or off. By default fatih/color decides from the
// terminal and NO_COLOR.
func WithColor(on bool) Option {
	return func(p *Printer) {
		for _, c := range []*color.Color{p.added, p.removed, p.changed, p.header} {
			if on {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// New creates a Printer writing to w.
func New(w io.Writer, opts ...Option) *Printer {
	p := &Printer{
		w:       w,
		added:   color.New(color.FgGreen),
		removed: color.New(color.FgRed),
		changed: color.New(color.FgYellow),
		header:  color.New(color.Bold),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Diff prints d, one field per line in field order:
//
//	+ email: "j@example.com"
//	- tmp: true
//	~ age: 30 -> 31
//	~ city: "[-Paris-]{+Lyon+}"
//
// Modified strings are shown as a character-level diff.
func (p *Printer) Diff(from, to string, d *snapshot.DiffResult) error {
	var b strings.Builder
	p.header.Fprintf(&b, "--- %s\n+++ %s\n", from, to)
	if d.Empty() {
		b.WriteString("no changes\n")
	}
	for _, field := range d.Fields() {
		if v, ok := d.Added[field]; ok {
			p.added.Fprintf(&b, "+ %s: %s\n", field, formatValue(v))
			continue
		}
		if v, ok := d.Removed[field]; ok {
			p.removed.Fprintf(&b, "- %s: %s\n", field, formatValue(v))
			continue
		}
		c := d.Modified[field]
		p.changed.Fprintf(&b, "~ %s: ", field)
		b.WriteString(p.change(c))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *Printer) change(c snapshot.Change) string {
	from, fok := c.From.(string)
	to, tok := c.To.(string)
	if !fok || !tok {
		return formatValue(c.From) + " -> " + formatValue(c.To)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(from, to, false))
	var b strings.Builder
	b.WriteByte('"')
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString(p.added.Sprint("{+" + d.Text + "+}"))
		case diffmatchpatch.DiffDelete:
			b.WriteString(p.removed.Sprint("[-" + d.Text + "-]"))
		default:
			b.WriteString(d.Text)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Summaries prints a table of snapshot summaries.
func (p *Printer) Summaries(list []snapshot.Summary) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, p.header.Sprint("LABEL\tRECORD\tEVENT\tCAPTURED"))
	for _, s := range list {
		record := "-"
		if s.HasIdentity() {
			record = s.RecordType + "/" + s.RecordID
		} else if s.RecordType != "" {
			record = s.RecordType
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Label, record, s.EventKind, s.CapturedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func formatValue(v any) string {
	data, err := snapshot.EncodeValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
