package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labstream/errors"
)

func TestQueryRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		query Query
	}{
		{"all", Query{QueryID: "q1", ReplyPort: 16600, Mode: QueryAll}},
		{"property", Query{QueryID: "q2", ReplyPort: 16601, Mode: QueryProperty, Key: "type", Value: "EEG"}},
		{"predicate", Query{QueryID: "q3", ReplyPort: 16602, Mode: QueryPredicate,
			Predicate: "type='EEG' and channel_count>8"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeQuery(tt.query.Encode())
			require.NoError(t, err)
			assert.Equal(t, tt.query, got)
		})
	}
}

func TestDecodeQueryRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"wrong magic", "HELLO v1\nreply-port: 1234\n"},
		{"reply magic", replyMagic + "\nreply-port: 1234\n"},
		{"missing reply port", queryMagic + "\nmode: all\n"},
		{"bad reply port", queryMagic + "\nreply-port: banana\n"},
		{"out of range port", queryMagic + "\nreply-port: 70000\n"},
		{"unknown mode", queryMagic + "\nreply-port: 1234\nmode: fuzzy\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeQuery([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err))
		})
	}
}

func TestDecodeQueryIgnoresUnknownHeaders(t *testing.T) {
	data := queryMagic + "\nreply-port: 1234\nmode: all\nx-future: whatever\n"
	q, err := DecodeQuery([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 1234, q.ReplyPort)
	assert.Equal(t, QueryAll, q.Mode)
}

func TestReplyRoundTrip(t *testing.T) {
	reply := Reply{
		QueryID:  "q7",
		Endpoint: "10.0.0.5:16572",
		InfoXML:  []byte("<info><name>BioSemi</name></info>"),
	}

	got, err := DecodeReply(reply.Encode())
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestDecodeReplyRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no separator", replyMagic + "\nendpoint: 1.2.3.4:5"},
		{"wrong magic", "NOPE\nendpoint: 1.2.3.4:5\n\n<info/>"},
		{"missing endpoint", replyMagic + "\nquery-id: q1\n\n<info/>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeReply([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err))
		})
	}
}

func TestQueryReplyCorrelation(t *testing.T) {
	q := Query{QueryID: "burst-42", ReplyPort: 16600, Mode: QueryAll}
	decoded, err := DecodeQuery(q.Encode())
	require.NoError(t, err)

	r := Reply{QueryID: decoded.QueryID, Endpoint: "h:1", InfoXML: []byte("<info/>")}
	gotReply, err := DecodeReply(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, q.QueryID, gotReply.QueryID)
}
