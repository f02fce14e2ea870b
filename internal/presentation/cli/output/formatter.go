// Package output renders command results as colored text or JSON.
// A Formatter is safe for concurrent use, so sync events arriving on other
// goroutines do not interleave with command output.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
)

// Format is an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Color is an ANSI escape sequence.
type Color string

const (
	ColorReset  Color = "\033[0m"
	ColorRed    Color = "\033[31m"
	ColorGreen  Color = "\033[32m"
	ColorYellow Color = "\033[33m"
	ColorBlue   Color = "\033[34m"
	ColorBold   Color = "\033[1m"
	ColorDim    Color = "\033[2m"
)

// Formatter writes command output.
type Formatter struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	color  bool
}

// Option configures a Formatter.
type Option func(*Formatter)

// NewFormatter returns a colored text formatter writing to stdout, adjusted
// by opts.
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{w: os.Stdout, format: FormatText, color: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithWriter sets the destination.
func WithWriter(w io.Writer) Option {
	return func(f *Formatter) { f.w = w }
}

// WithFormat sets the output format.
func WithFormat(format Format) Option {
	return func(f *Formatter) { f.format = format }
}

// WithColor enables or disables ANSI colors.
func WithColor(enabled bool) Option {
	return func(f *Formatter) { f.color = enabled }
}

// ParseFormat parses an --output value.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown output format %q (want text or json)", s)
}

// IsJSON reports whether output is machine-readable.
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// Write implements io.Writer.
func (f *Formatter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.Write(p)
}

// Println writes a formatted line.
func (f *Formatter) Println(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.w, format+"\n", args...)
	return err
}

// Colorize wraps text in color when colors are enabled.
func (f *Formatter) Colorize(text string, c Color) string {
	if !f.color {
		return text
	}
	return string(c) + text + string(ColorReset)
}

// Dim renders muted text.
func (f *Formatter) Dim(text string) string {
	return f.Colorize(text, ColorDim)
}

func (f *Formatter) message(symbol string, c Color, format string, args []any) error {
	return f.Println("%s", f.Colorize(symbol+" "+fmt.Sprintf(format, args...), c))
}

// Success writes a green ✓ line.
func (f *Formatter) Success(format string, args ...any) error {
	return f.message("✓", ColorGreen, format, args)
}

// Error writes a red ✗ line.
func (f *Formatter) Error(format string, args ...any) error {
	return f.message("✗", ColorRed, format, args)
}

// Warning writes a yellow ⚠ line.
func (f *Formatter) Warning(format string, args ...any) error {
	return f.message("⚠", ColorYellow, format, args)
}

// Info writes a blue ℹ line.
func (f *Formatter) Info(format string, args ...any) error {
	return f.message("ℹ", ColorBlue, format, args)
}

// Header writes a bold title underlined to its width.
func (f *Formatter) Header(title string) error {
	return f.Println("%s\n%s", f.Colorize(title, ColorBold), strings.Repeat("─", len([]rune(title))))
}

// Item writes an indented "key: value" line.
func (f *Formatter) Item(key, value string) error {
	return f.Println("  %s: %s", f.Dim(key), value)
}

// Table writes rows in aligned columns under headers. Cells must not
// contain tabs or newlines.
func (f *Formatter) Table(headers []string, rows [][]string) error {
	if len(headers) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tw := tabwriter.NewWriter(f.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		cells := make([]string, len(headers))
		copy(cells, row)
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RawJSON pretty-prints an encoded document. Invalid JSON is written as is.
func (f *Formatter) RawJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return f.Println("%s", raw)
	}
	return f.JSON(v)
}
