package main

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/miradorstack/nrquery/internal/stats"
)

func TestBuilderFlagsQueries(t *testing.T) {
	var b builderFlags
	if got, err := b.queries([]string{"SELECT 1 FROM X"}); err != nil || len(got) != 1 || got[0] != "SELECT 1 FROM X" {
		t.Fatalf("arguments should pass through: %v %v", got, err)
	}
	if _, err := b.queries(nil); err == nil {
		t.Fatalf("expected error without arguments or builder flags")
	}

	b = builderFlags{metric: "cpuPercent"}
	if _, err := b.queries(nil); err == nil {
		t.Fatalf("expected --from to be required")
	}

	b = builderFlags{
		metric:     "cpuPercent",
		from:       []string{"SystemSample"},
		where:      []string{"hostname LIKE 'web%'"},
		since:      "1 hour ago",
		timeseries: "auto",
	}
	got, err := b.queries(nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "SELECT average(cpuPercent) AS 'cpuPercent' FROM SystemSample WHERE hostname LIKE 'web%' SINCE 1 hour ago TIMESERIES auto"
	if got[0] != want {
		t.Fatalf("unexpected query\n got: %s\nwant: %s", got[0], want)
	}
}

func TestWriteOutputs(t *testing.T) {
	var buf bytes.Buffer
	err := writeOutputs(&buf, stats.OpSum, map[string]stats.Output{
		"b": {Value: 2},
		"a": {Value: math.NaN()},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "a") || !strings.HasSuffix(lines[0], "NaN") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	buf.Reset()
	err = writeOutputs(&buf, stats.OpGradient, map[string]stats.Output{"v": {Values: []float64{1, 1.5}}})
	if err != nil || !strings.Contains(buf.String(), "1 1.5") {
		t.Fatalf("unexpected elementwise output %q %v", buf.String(), err)
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"query": false, "stats": false, "sample": false, "deadnodes": false, "serve": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %s", name)
		}
	}
}
