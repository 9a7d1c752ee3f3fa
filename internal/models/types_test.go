package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestStringArrayScan(t *testing.T) {
	var s StringArray
	require.NoError(t, s.Scan(`["mon","fri"]`))
	assert.Equal(t, StringArray{"mon", "fri"}, s)

	require.NoError(t, s.Scan([]byte(`["a"]`)))
	assert.Equal(t, StringArray{"a"}, s)

	require.NoError(t, s.Scan(nil))
	assert.Empty(t, s)

	assert.Error(t, s.Scan(42))
	assert.Error(t, s.Scan("not json"))
}

func TestStringArrayValue(t *testing.T) {
	v, err := StringArray{"09:00", "18:30"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["09:00","18:30"]`, v)

	v, err = StringArray(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestVoiceoverScanValue(t *testing.T) {
	in := Voiceover{Text: "now", PreviousText: "before", NextText: "after"}
	raw, err := in.Value()
	require.NoError(t, err)

	var out Voiceover
	require.NoError(t, out.Scan(raw))
	assert.Equal(t, in, out)

	require.NoError(t, out.Scan(nil))
	assert.Equal(t, Voiceover{}, out)
}

func TestDecodeMetadata(t *testing.T) {
	script := &Script{Metadata: datatypes.JSON(`{"title":"T","description":"D","hashtags":["#ai"]}`)}
	meta := script.DecodeMetadata()
	assert.Equal(t, "T", meta.Title)
	assert.Equal(t, []string{"#ai"}, meta.Hashtags)

	asset := &Asset{Metadata: datatypes.JSON(`{"word_alignment":[{"word":"hi","start_time":0.1,"end_time":0.4}]}`)}
	words := asset.DecodeMetadata().WordAlignment
	require.Len(t, words, 1)
	assert.Equal(t, "hi", words[0].Word)

	assert.Empty(t, (&Asset{}).DecodeMetadata().WordAlignment)
}

func TestPlatformLocation(t *testing.T) {
	assert.Equal(t, time.UTC, (&Platform{}).Location())
	assert.Equal(t, time.UTC, (&Platform{Timezone: "Nowhere/City"}).Location())
	assert.Equal(t, "America/New_York", (&Platform{Timezone: "America/New_York"}).Location().String())
}

func TestIsTerminalBatchStatus(t *testing.T) {
	assert.True(t, IsTerminalBatchStatus(BatchCompleted))
	assert.True(t, IsTerminalBatchStatus(BatchExpired))
	assert.False(t, IsTerminalBatchStatus(BatchInProgress))
	assert.False(t, IsTerminalBatchStatus(BatchFinalizing))
}
