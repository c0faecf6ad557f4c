package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresEntriesInOrder(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	require.NoError(t, registry.Register("@every 30s", jobA))
	require.NoError(t, registry.Register("*/5 * * * *", jobB))

	entries := registry.Entries()
	require.Len(t, entries, 2)
	assert.Same(t, jobA, entries[0].Job)
	assert.Equal(t, "@every 30s", entries[0].Spec)
	assert.Same(t, jobB, entries[1].Job)

	entries[0].Job = nil
	assert.NotNil(t, registry.Entries()[0].Job, "internal slice leaked")
}

func TestRegistryRejectsInvalidEntries(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("@daily", &stubJob{name: "a"}))

	tests := []struct {
		name string
		spec string
		job  Job
	}{
		{name: "nil job", spec: "@daily", job: nil},
		{name: "bad spec", spec: "every tuesday", job: &stubJob{name: "b"}},
		{name: "seconds field", spec: "0 */5 * * * *", job: &stubJob{name: "c"}},
		{name: "duplicate name", spec: "@hourly", job: &stubJob{name: "a"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, registry.Register(tc.spec, tc.job))
		})
	}
	assert.Len(t, registry.Entries(), 1)
}
