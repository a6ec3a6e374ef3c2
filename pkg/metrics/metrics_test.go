package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"procamgraycode/internal/models"
	"procamgraycode/pkg/correspondence"
)

func TestObserveResult(t *testing.T) {
	m := New()
	m.ObserveCapture(10)
	m.ObserveResult(correspondence.Stats{
		models.Decoded:  12,
		models.Shadowed: 3,
	}, correspondence.Report{Coverage: 0.8})

	if got := testutil.ToFloat64(m.FramesCaptured); got != 10 {
		t.Errorf("Expected 10 frames, got %f", got)
	}
	if got := testutil.ToFloat64(m.Pixels.WithLabelValues("decoded")); got != 12 {
		t.Errorf("Expected 12 decoded pixels, got %f", got)
	}
	if got := testutil.ToFloat64(m.Pixels.WithLabelValues("ambiguous")); got != 0 {
		t.Errorf("Expected 0 ambiguous pixels, got %f", got)
	}
	if got := testutil.ToFloat64(m.Coverage); got != 0.8 {
		t.Errorf("Expected coverage 0.8, got %f", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveCapture(4)
	m.ObserveStage("decode", time.Now().Add(-time.Second))

	path := filepath.Join(t.TempDir(), "procam.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	text := string(data)
	for _, want := range []string{"procam_frames_captured_total 4", `procam_stage_duration_seconds{stage="decode"}`} {
		if !strings.Contains(text, want) {
			t.Errorf("Metrics file missing %q:\n%s", want, text)
		}
	}
}
