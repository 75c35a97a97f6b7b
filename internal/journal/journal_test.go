package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skobkin/creepmon/internal/sampler"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestEnsureInitializedWritesHeaderOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "sensor_data.csv")
	w, err := New(path, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := w.EnsureInitialized(); err != nil {
			t.Fatalf("EnsureInitialized #%d returned error: %v", i, err)
		}
	}

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected only the header, got %q", lines)
	}
	if lines[0] != "Date,Elapsed Time (s),Change in Length (mm),% Strain" {
		t.Fatalf("unexpected header %q", lines[0])
	}
}

func TestAppendProducesOneRowPerSample(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sensor_data.csv")
	w, err := New(path, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := w.EnsureInitialized(); err != nil {
		t.Fatalf("EnsureInitialized returned error: %v", err)
	}

	samples := []sampler.Sample{
		{Date: "11/08", ElapsedSeconds: 30, ChangeInLengthMM: 1.255, StrainPercent: 2.51, StatusCode: "200"},
		{Date: "11/08", ElapsedSeconds: 60, StatusCode: sampler.KindRequest.StatusCode()},
		{Date: "12/08", ElapsedSeconds: 90, ChangeInLengthMM: 2, StrainPercent: 4, StatusCode: "200"},
	}
	for _, s := range samples {
		if err := w.Append(s); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
		// Re-initialising between appends must not add a second header.
		if err := w.EnsureInitialized(); err != nil {
			t.Fatalf("EnsureInitialized returned error: %v", err)
		}
	}

	lines := readLines(t, path)
	if len(lines) != len(samples)+1 {
		t.Fatalf("expected %d lines, got %d: %q", len(samples)+1, len(lines), lines)
	}
	want := []string{
		"11/08,30,1.255,2.51",
		"11/08,60,0.0,0.0",
		"12/08,90,2.0,4.0",
	}
	for i, line := range want {
		if lines[i+1] != line {
			t.Fatalf("row %d = %q, want %q", i+1, lines[i+1], line)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("journal is not valid csv: %v", err)
	}
	for _, record := range records {
		if len(record) != len(Header) {
			t.Fatalf("expected %d columns, got %d", len(Header), len(record))
		}
	}
}

func TestEnsureInitializedKeepsExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sensor_data.csv")
	existing := "Date,Elapsed Time (s),Change in Length (mm),% Strain\n10/08,1,0.1,0.2\n"
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	w, err := New(path, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := w.EnsureInitialized(); err != nil {
		t.Fatalf("EnsureInitialized returned error: %v", err)
	}
	if err := w.Append(sampler.Sample{Date: "11/08", ElapsedSeconds: 2, ChangeInLengthMM: 0.3, StrainPercent: 0.6}); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 3 || lines[1] != "10/08,1,0.1,0.2" || lines[2] != "11/08,2,0.3,0.6" {
		t.Fatalf("existing rows must be preserved, got %q", lines)
	}
}

func TestAppendFailsForUnwritablePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := w.Append(sampler.Sample{Date: "11/08"}); err == nil {
		t.Fatalf("expected error when journal path is a directory")
	}
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := New("  ", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFormatFloat(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		0:      "0.0",
		2.51:   "2.51",
		1.255:  "1.255",
		-0.5:   "-0.5",
		100:    "100.0",
		0.001:  "0.001",
		12.346: "12.346",
	}
	for in, want := range cases {
		if got := formatFloat(in); got != want {
			t.Fatalf("formatFloat(%v) = %q, want %q", in, got, want)
		}
	}
}
