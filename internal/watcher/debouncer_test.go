package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain returns the next batch or fails.
func drain(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for batch")
		return nil
	}
}

func TestDebouncer_WindowCoalescesBurst(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, 4)
	defer d.Stop()

	// When: the same file is written repeatedly
	for range 5 {
		d.Add(FileEvent{Path: "/n/a.md", Operation: OpModify})
	}

	// Then: one event arrives after the window
	batch := drain(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncer_MergeRules(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want []Operation
	}{
		{"create then modify stays create", []Operation{OpCreate, OpModify}, []Operation{OpCreate}},
		{"create then delete vanishes", []Operation{OpCreate, OpDelete}, nil},
		{"delete then create is modify", []Operation{OpDelete, OpCreate}, []Operation{OpModify}},
		{"modify then delete is delete", []Operation{OpModify, OpDelete}, []Operation{OpDelete}},
		{"rename keeps latest", []Operation{OpRename, OpCreate}, []Operation{OpCreate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(time.Hour, 1)
			defer d.Stop()
			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "/x", Operation: op})
			}

			d.Flush()

			if tt.want == nil {
				select {
				case batch := <-d.Output():
					t.Fatalf("unexpected batch %v", batch)
				default:
				}
				return
			}
			batch := drain(t, d)
			require.Len(t, batch, 1)
			assert.Equal(t, tt.want[0], batch[0].Operation)
		})
	}
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(time.Hour, 1)
	defer d.Stop()
	for _, p := range []string{"/c", "/a", "/b"} {
		d.Add(FileEvent{Path: p, Operation: OpModify})
	}

	d.Flush()

	batch := drain(t, d)
	require.Len(t, batch, 3)
	assert.Equal(t, "/a", batch[0].Path)
	assert.Equal(t, "/b", batch[1].Path)
	assert.Equal(t, "/c", batch[2].Path)
}

func TestDebouncer_FullOutputDropsBatch(t *testing.T) {
	d := NewDebouncer(time.Hour, 1)
	defer d.Stop()

	d.Add(FileEvent{Path: "/a", Operation: OpModify})
	d.Flush()
	d.Add(FileEvent{Path: "/b", Operation: OpModify})
	d.Flush()

	batch := drain(t, d)
	assert.Equal(t, "/a", batch[0].Path)
	select {
	case <-d.Output():
		t.Fatal("second batch should have been dropped")
	default:
	}
}

func TestDebouncer_StopIsIdempotentAndClosesOutput(t *testing.T) {
	d := NewDebouncer(10*time.Millisecond, 1)
	d.Add(FileEvent{Path: "/a", Operation: OpCreate})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "/b", Operation: OpCreate})

	_, open := <-d.Output()
	assert.False(t, open)
}
