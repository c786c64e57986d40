package latency

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMeterRecordElapsed(t *testing.T) {
	m := NewMeter()
	start := time.Now()
	m.Start(start)

	end := start.Add(150 * time.Millisecond)
	got := m.Record(end)

	want := 150 * time.Millisecond
	if got != want.Nanoseconds() {
		t.Errorf("Record() = %d ns, want %d ns", got, want.Nanoseconds())
	}

	samples := m.Samples()
	if len(samples) != 1 || samples[0] != want.Nanoseconds() {
		t.Errorf("Samples() = %v, want [%d]", samples, want.Nanoseconds())
	}
}

func TestMeterGrowsPastInitialCapacity(t *testing.T) {
	m := NewMeter()
	base := time.Now()

	for i := 0; i < initialCapacity*2+5; i++ {
		m.Start(base)
		m.Record(base.Add(time.Duration(i+1) * time.Nanosecond))
	}

	samples := m.Samples()
	if len(samples) != initialCapacity*2+5 {
		t.Fatalf("len(Samples()) = %d, want %d", len(samples), initialCapacity*2+5)
	}
	if samples[0] != 1 {
		t.Errorf("first sample = %d, want 1", samples[0])
	}
}

func TestMeterFinishedCounter(t *testing.T) {
	m := NewMeter()
	m.Reset(time.Now())

	if got := m.Finished(); got != 0 {
		t.Fatalf("Finished() before increment = %d, want 0", got)
	}
	for i := 1; i <= 3; i++ {
		if got := m.IncrementFinished(); got != i {
			t.Errorf("IncrementFinished() call %d = %d, want %d", i, got, i)
		}
	}
}

func TestMeterWriteFile(t *testing.T) {
	m := NewMeter()
	base := time.Now()
	m.Start(base)
	m.Record(base.Add(10 * time.Nanosecond))
	m.Start(base)
	m.Record(base.Add(20 * time.Nanosecond))

	path := filepath.Join(t.TempDir(), "latency_samples_0.txt")
	if err := m.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "10\n20\n"
	if string(data) != want {
		t.Errorf("file contents = %q, want %q", string(data), want)
	}
}
