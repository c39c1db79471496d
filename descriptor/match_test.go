package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labstream/errors"
)

func matchTestDescriptor(t *testing.T) *StreamDescriptor {
	t.Helper()
	d, err := New("BioSemi", "EEG", 32, 512, Float32, "dev42")
	require.NoError(t, err)
	d.Desc().AppendChildValue("manufacturer", "BioSemi B.V.")
	acq := d.Desc().AppendChild("acquisition")
	acq.AppendChildValue("model", "ActiveTwo")
	return d.Bind("lab-host", "sess-1")
}

func TestMatchesProperty(t *testing.T) {
	d := matchTestDescriptor(t)

	assert.True(t, d.MatchesProperty("name", "BioSemi"))
	assert.True(t, d.MatchesProperty("type", "EEG"))
	assert.True(t, d.MatchesProperty("channel_count", "32"))
	assert.True(t, d.MatchesProperty("nominal_srate", "512"))
	assert.True(t, d.MatchesProperty("channel_format", "float32"))
	assert.True(t, d.MatchesProperty("source_id", "dev42"))
	assert.True(t, d.MatchesProperty("hostname", "lab-host"))
	assert.True(t, d.MatchesProperty("uid", d.UID()))

	assert.False(t, d.MatchesProperty("name", "Other"))
	assert.False(t, d.MatchesProperty("bogus_key", "x"))
}

func TestMatchesPredicate(t *testing.T) {
	d := matchTestDescriptor(t)

	tests := []struct {
		pred string
		want bool
	}{
		{"name='BioSemi'", true},
		{"name='Other'", false},
		{"name!='Other'", true},
		{"type='EEG' and channel_count=32", true},
		{"type='EEG' and channel_count=16", false},
		{"type='MEG' or type='EEG'", true},
		{"not(type='MEG')", true},
		{"not(type='EEG' or name='X')", false},
		{"(type='MEG' or type='EEG') and nominal_srate>=512", true},
		{"channel_count>8", true},
		{"channel_count<8", false},
		{"nominal_srate>100.5", true},
		{"starts-with(name,'Bio')", true},
		{"starts-with(name,'Neuro')", false},
		{"contains(type,'E')", true},
		{"contains(name,'Semi')", true},
		{"source_id", true},
		{"session_id='sess-1'", true},
		{"//name='BioSemi'", true},
		{"/info/name='BioSemi'", true},
		{"desc/manufacturer='BioSemi B.V.'", true},
		{"desc/acquisition/model='ActiveTwo'", true},
		{"desc/acquisition/model='Other'", false},
		{"desc/missing", false},
		{"channel_format='float32' and starts-with(name,'Bio') and not(contains(type,'audio'))", true},
	}

	for _, tt := range tests {
		t.Run(tt.pred, func(t *testing.T) {
			got, err := d.MatchesPredicate(tt.pred)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesPredicateErrors(t *testing.T) {
	d := matchTestDescriptor(t)

	bad := []string{
		"",
		"name=",
		"(name='x'",
		"not name='x'",
		"starts-with(name)",
		"starts-with(name,'x'",
		"name='x' extra='y'",
		"and name='x'",
	}

	for _, pred := range bad {
		t.Run(pred, func(t *testing.T) {
			_, err := d.MatchesPredicate(pred)
			require.Error(t, err, "predicate %q should be rejected", pred)
			assert.True(t, errors.IsInvalidArgument(err))
		})
	}
}

func TestPredicateUnknownPathIsFalseNotError(t *testing.T) {
	d := matchTestDescriptor(t)

	got, err := d.MatchesPredicate("nonexistent_field='x'")
	require.NoError(t, err)
	assert.False(t, got)
}
