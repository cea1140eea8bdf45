package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobArchiver struct {
	auditBefore []time.Time
	opsBefore   []time.Time
	auditErr    error
}

func (f *fakeBlobArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.auditBefore = append(f.auditBefore, before)
	return 3, f.auditErr
}

func (f *fakeBlobArchiver) ArchiveOperations(_ context.Context, before time.Time) (int64, error) {
	f.opsBefore = append(f.opsBefore, before)
	return 5, nil
}

func TestArchiver_RunUsesRetentionCutoff(t *testing.T) {
	blob := &fakeBlobArchiver{}
	a := NewArchiver(blob, 30, discardLogger())
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Run(context.Background()))

	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, []time.Time{want}, blob.auditBefore)
	assert.Equal(t, []time.Time{want}, blob.opsBefore)
}

func TestArchiver_RunStopsOnAuditError(t *testing.T) {
	blob := &fakeBlobArchiver{auditErr: errors.New("s3 down")}
	a := NewArchiver(blob, 0, discardLogger())

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 down")
	assert.Empty(t, blob.opsBefore)
	assert.Equal(t, 90, a.retentionDays)
}

func TestArchiver_RunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeBlobArchiver{}, 30, discardLogger())
	err := a.RunCron(context.Background(), "0 3 * *")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5 fields")
}

func TestParseCronField(t *testing.T) {
	tests := []struct {
		field string
		want  []int
		err   bool
	}{
		{field: "5", want: []int{5}},
		{field: "1,3,5", want: []int{1, 3, 5}},
		{field: "10-12", want: []int{10, 11, 12}},
		{field: "*/20", want: []int{0, 20, 40}},
		{field: "0-30/15", want: []int{0, 15, 30}},
		{field: "60", err: true},
		{field: "5-2", err: true},
		{field: "*/0", err: true},
		{field: "x", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f, err := parseCronField(tt.field, 0, 59)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var got []int
			for v := 0; v <= 59; v++ {
				if f.matches(v) {
					got = append(got, v)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCronNext(t *testing.T) {
	sched, err := parseCron("0 3 * * *")
	require.NoError(t, err)

	from := time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC)
	next, err := sched.next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 11, 3, 0, 0, 0, time.UTC), next)

	weekly, err := parseCron("30 6 * * 1")
	require.NoError(t, err)
	next, err = weekly.next(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)) // Sunday
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 11, 6, 30, 0, 0, time.UTC), next)
}
