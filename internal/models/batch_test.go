package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/touchless-directory/internal/types"
)

func TestURLMap_UnmarshalLegacyAndCurrent(t *testing.T) {
	data := []byte(`{"https://wash1.com":["a","b","a"],"https://wash2.com":"c","https://wash3.com":42}`)

	var m URLMap
	require.NoError(t, json.Unmarshal(data, &m))

	assert.Equal(t, []string{"a", "b"}, m["https://wash1.com"])
	assert.Equal(t, []string{"c"}, m["https://wash2.com"])
	assert.Equal(t, []string{"42"}, m["https://wash3.com"])
	assert.Equal(t, 4, m.ListingCount())
}

func TestURLMap_RejectsUnsupportedValues(t *testing.T) {
	var m URLMap
	err := json.Unmarshal([]byte(`{"https://wash1.com":{"id":"a"}}`), &m)
	assert.Error(t, err)
}

func TestURLMap_AddDeduplicates(t *testing.T) {
	m := URLMap{}
	m.Add("https://wash1.com", "a")
	m.Add("https://wash1.com", "a")
	m.Add("https://wash1.com", "b")

	assert.Equal(t, []string{"a", "b"}, m["https://wash1.com"])
	assert.Equal(t, []string{"a", "b"}, m.ListingIDs())
}

func TestBatchProgress_AppliedTo(t *testing.T) {
	running := &BatchProgress{Status: types.BatchRunning, ClassifyStatus: types.ClassifyRunning}
	completed := &BatchProgress{Status: types.BatchCompleted, ClassifyStatus: types.ClassifyCompleted}

	assert.True(t, running.AppliedTo(&Batch{ClassifyStatus: types.ClassifyRunning}))
	assert.True(t, running.AppliedTo(&Batch{ClassifyStatus: types.ClassifyWaiting}))
	assert.True(t, completed.AppliedTo(&Batch{ClassifyStatus: types.ClassifyCompleted}))

	assert.False(t, running.AppliedTo(&Batch{ClassifyStatus: types.ClassifyAbandoned}))
	assert.False(t, running.AppliedTo(&Batch{ClassifyStatus: types.ClassifyCompleted}))
	assert.False(t, completed.AppliedTo(&Batch{ClassifyStatus: types.ClassifyExpired}))
}
