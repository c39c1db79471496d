package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/labstream/errors"
)

// Discovery datagrams are line-oriented text: a version line followed
// by "key: value" header lines, and for replies a blank line then the
// descriptor XML. Text keeps the exchange inspectable with tcpdump and
// lets unknown headers pass through older peers untouched.
const (
	queryMagic = "LABSTREAM-QUERY v1"
	replyMagic = "LABSTREAM-REPLY v1"
)

// QueryMode selects how a discovery query filters streams.
type QueryMode string

const (
	// QueryAll matches every stream the responder hosts.
	QueryAll QueryMode = "all"
	// QueryProperty matches streams whose named hosting property
	// equals the given value exactly.
	QueryProperty QueryMode = "property"
	// QueryPredicate matches streams satisfying an XPath-style
	// predicate expression.
	QueryPredicate QueryMode = "predicate"
)

// Query is one discovery request datagram. ReplyPort names the UDP
// port on the sender's host where replies are expected; QueryID lets
// the resolver discard replies from earlier bursts.
type Query struct {
	QueryID   string
	ReplyPort int
	Mode      QueryMode
	Key       string
	Value     string
	Predicate string
}

// Encode renders the query as a datagram payload.
func (q Query) Encode() []byte {
	var b strings.Builder
	b.WriteString(queryMagic)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "query-id: %s\n", q.QueryID)
	fmt.Fprintf(&b, "reply-port: %d\n", q.ReplyPort)
	fmt.Fprintf(&b, "mode: %s\n", q.Mode)
	switch q.Mode {
	case QueryProperty:
		fmt.Fprintf(&b, "key: %s\n", q.Key)
		fmt.Fprintf(&b, "value: %s\n", q.Value)
	case QueryPredicate:
		fmt.Fprintf(&b, "predicate: %s\n", q.Predicate)
	}
	return []byte(b.String())
}

// DecodeQuery parses a query datagram. Datagrams that do not open with
// the query magic line, or that omit a usable reply port, are
// rejected; responders drop those silently.
func DecodeQuery(data []byte) (Query, error) {
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != queryMagic {
		return Query{}, errors.WrapInvalid(
			fmt.Errorf("not a discovery query: %w", errors.ErrInvalidArgument),
			"wire", "DecodeQuery", "magic validation")
	}

	q := Query{Mode: QueryAll}
	for _, line := range lines[1:] {
		key, value, ok := splitHeader(line)
		if !ok {
			continue
		}
		switch key {
		case "query-id":
			q.QueryID = value
		case "reply-port":
			port, err := strconv.Atoi(value)
			if err != nil || port < 1 || port > 65535 {
				return Query{}, errors.WrapInvalid(
					fmt.Errorf("reply-port %q: %w", value, errors.ErrInvalidArgument),
					"wire", "DecodeQuery", "header validation")
			}
			q.ReplyPort = port
		case "mode":
			q.Mode = QueryMode(value)
		case "key":
			q.Key = value
		case "value":
			q.Value = value
		case "predicate":
			q.Predicate = value
		}
	}
	if q.ReplyPort == 0 {
		return Query{}, errors.WrapInvalid(
			fmt.Errorf("missing reply-port: %w", errors.ErrInvalidArgument),
			"wire", "DecodeQuery", "header validation")
	}
	switch q.Mode {
	case QueryAll, QueryProperty, QueryPredicate:
	default:
		return Query{}, errors.WrapInvalid(
			fmt.Errorf("unknown query mode %q: %w", q.Mode, errors.ErrInvalidArgument),
			"wire", "DecodeQuery", "mode validation")
	}
	return q, nil
}

// Reply is one discovery response datagram: the hosting endpoint where
// the stream's session listener accepts connections, plus the stream's
// short descriptor XML. The endpoint travels in the envelope, not the
// XML, so the descriptor document stays identical to what the outlet
// serves over its session socket.
type Reply struct {
	QueryID  string
	Endpoint string
	InfoXML  []byte
}

// Encode renders the reply as a datagram payload.
func (r Reply) Encode() []byte {
	var b bytes.Buffer
	b.WriteString(replyMagic)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "query-id: %s\n", r.QueryID)
	fmt.Fprintf(&b, "endpoint: %s\n", r.Endpoint)
	b.WriteByte('\n')
	b.Write(r.InfoXML)
	return b.Bytes()
}

// DecodeReply parses a reply datagram.
func DecodeReply(data []byte) (Reply, error) {
	head, xml, found := bytes.Cut(data, []byte("\n\n"))
	if !found {
		return Reply{}, errors.WrapInvalid(
			fmt.Errorf("reply missing body separator: %w", errors.ErrInvalidArgument),
			"wire", "DecodeReply", "body validation")
	}

	lines := strings.Split(string(head), "\n")
	if strings.TrimRight(lines[0], "\r") != replyMagic {
		return Reply{}, errors.WrapInvalid(
			fmt.Errorf("not a discovery reply: %w", errors.ErrInvalidArgument),
			"wire", "DecodeReply", "magic validation")
	}

	r := Reply{InfoXML: xml}
	for _, line := range lines[1:] {
		key, value, ok := splitHeader(line)
		if !ok {
			continue
		}
		switch key {
		case "query-id":
			r.QueryID = value
		case "endpoint":
			r.Endpoint = value
		}
	}
	if r.Endpoint == "" {
		return Reply{}, errors.WrapInvalid(
			fmt.Errorf("missing endpoint: %w", errors.ErrInvalidArgument),
			"wire", "DecodeReply", "header validation")
	}
	return r, nil
}

func splitHeader(line string) (key, value string, ok bool) {
	line = strings.TrimRight(line, "\r")
	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}
