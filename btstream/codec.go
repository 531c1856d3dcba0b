package btstream

import (
	"fmt"

	"github.com/zeebo/bencode"
)

// encodeCommand produces the bencoded list body for `l "C" <req_id>
// <endpoint> <body> e`, per spec §4.4. The caller still has to prepend
// the decimal length prefix via frame().
func encodeCommand(reqID int64, endpoint string, body []byte) ([]byte, error) {
	return bencode.EncodeBytes([]interface{}{"C", reqID, endpoint, string(body)})
}

// encodeResponse produces the bencoded list body for `l "R"/"E" <req_id>
// <body> e`.
func encodeResponse(reqID int64, body []byte, isError bool) ([]byte, error) {
	tag := "R"
	if isError {
		tag = "E"
	}
	return bencode.EncodeBytes([]interface{}{tag, reqID, string(body)})
}

// decodedList is the positionally-decoded form of one bencoded list, prior
// to being turned into a Message.
type decodedList struct {
	msgType  string
	reqID    int64
	endpoint string
	body     []byte
}

func decodeList(raw []byte) (decodedList, error) {
	var parts []interface{}
	if err := bencode.DecodeBytes(raw, &parts); err != nil {
		return decodedList{}, fmt.Errorf("%w: decode failed: %v", ErrProtocol, err)
	}
	if len(parts) < 3 {
		return decodedList{}, fmt.Errorf("%w: list has only %d elements", ErrProtocol, len(parts))
	}

	msgType, ok := parts[0].(string)
	if !ok {
		return decodedList{}, fmt.Errorf("%w: type element is not a string", ErrProtocol)
	}
	reqID, err := asInt64(parts[1])
	if err != nil {
		return decodedList{}, fmt.Errorf("%w: req_id: %v", ErrProtocol, err)
	}

	switch msgType {
	case "C":
		if len(parts) != 4 {
			return decodedList{}, fmt.Errorf("%w: command list has %d elements, want 4", ErrProtocol, len(parts))
		}
		endpoint, ok := parts[2].(string)
		if !ok {
			return decodedList{}, fmt.Errorf("%w: endpoint element is not a string", ErrProtocol)
		}
		body, err := asBytes(parts[3])
		if err != nil {
			return decodedList{}, fmt.Errorf("%w: body: %v", ErrProtocol, err)
		}
		return decodedList{msgType: msgType, reqID: reqID, endpoint: endpoint, body: body}, nil

	case "R", "E":
		if len(parts) != 3 {
			return decodedList{}, fmt.Errorf("%w: response list has %d elements, want 3", ErrProtocol, len(parts))
		}
		body, err := asBytes(parts[2])
		if err != nil {
			return decodedList{}, fmt.Errorf("%w: body: %v", ErrProtocol, err)
		}
		return decodedList{msgType: msgType, reqID: reqID, body: body}, nil

	default:
		return decodedList{}, fmt.Errorf("%w: unknown message type %q", ErrProtocol, msgType)
	}
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not an integer (%T)", v)
	}
}

func asBytes(v interface{}) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	default:
		return nil, fmt.Errorf("not a byte string (%T)", v)
	}
}
