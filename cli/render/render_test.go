package render

import (
	"bytes"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFormat_InvalidErrorMessage(t *testing.T) {
	_, err := ParseFormat("xml")
	if err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error message should mention valid formats, got: %v", err)
	}
}

type packetRow struct {
	Seq      uint64    `json:"seq"`
	Payload  []byte    `json:"payload"`
	Verified bool      `json:"verified"`
	At       time.Time `json:"at"`
	internal int
}

func TestRenderer_Formats(t *testing.T) {
	data := map[string]string{"key": "value"}
	tests := []struct {
		format Format
		want   []string
	}{
		{FormatJSON, []string{`"key": "value"`}},
		{FormatYAML, []string{"key: value"}},
		{FormatTable, []string{"key:", "value"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewRendererWithWriter(tt.format, &buf).Render(data); err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("%s output missing %q: %s", tt.format, w, buf.String())
				}
			}
		})
	}
}

func TestRenderer_Table_Struct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	if err := r.Render(packetRow{Seq: 7, Payload: []byte("hi\r"), Verified: true, At: at, internal: 1}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	for _, want := range []string{"seq:", "7", `"hi\r"`, "verified:", "true", "2026-10-14T09:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("table output missing %q: %s", want, got)
		}
	}
	if strings.Contains(got, "internal") {
		t.Errorf("unexported field rendered: %s", got)
	}
}

func TestRenderer_Table_Slice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	data := []packetRow{
		{Seq: 1, Payload: []byte("first")},
		{Seq: 2, Payload: bytes.Repeat([]byte("x"), 100)},
	}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "SEQ") || !strings.Contains(lines[0], "PAYLOAD") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], `"first"`) {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], `"...`) {
		t.Errorf("long payload not truncated: %q", lines[2])
	}
}

func TestRenderer_Table_MapKeysSorted(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, &buf)

	if err := r.Render(map[string]int{"zeta": 1, "alpha": 2, "mid": 3}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	if !(strings.Index(got, "alpha") < strings.Index(got, "mid") && strings.Index(got, "mid") < strings.Index(got, "zeta")) {
		t.Errorf("map keys not sorted: %s", got)
	}
}

func TestRenderer_Table_EmptySlice(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRendererWithWriter(FormatTable, &buf).Render([]string{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("Empty slice should show '(no results)', got: %s", buf.String())
	}
}

func TestNewRenderer_NonTTYDefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	app := &cli.App{Writer: &buf}
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("format", "", "")
	c := cli.NewContext(app, set, nil)

	r, err := NewRenderer(c)
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}
	if r.Format() != FormatJSON {
		t.Errorf("Format = %q, want json", r.Format())
	}

	if err := set.Set("format", "yaml"); err != nil {
		t.Fatal(err)
	}
	r, err = NewRenderer(c)
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}
	if r.Format() != FormatYAML {
		t.Errorf("Format = %q, want yaml", r.Format())
	}

	if err := set.Set("format", "xml"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRenderer(c); err == nil {
		t.Error("expected error for invalid format")
	}
}
