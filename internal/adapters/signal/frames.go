package signal

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dkeye/callvault/internal/core"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// inbound is the closed set of frames a client may send.
type inbound interface {
	frameType() string
	// needsRegistration is false only for frames allowed before register.
	needsRegistration() bool
}

type pingFrame struct{}

type registerFrame struct {
	Address string `json:"address"`
	PubKey  string `json:"pubkey"`
	Name    string `json:"name"`
}

type msgSendFrame struct {
	ToAddress   string          `json:"to_address"`
	FromAddress string          `json:"from_address"`
	Content     json.RawMessage `json:"content"`
	Timestamp   epochMillis     `json:"timestamp"`
	Nonce       string          `json:"nonce"`
}

type callInitFrame struct {
	ToAddress   string      `json:"to_address"`
	FromAddress string      `json:"from_address"`
	SessionID   string      `json:"sessionId"`
	CallType    string      `json:"callType"`
	Timestamp   epochMillis `json:"timestamp"`
	Nonce       string      `json:"nonce"`
}

// callControlFrame covers call:ringing, call:accept, call:reject and call:end.
type callControlFrame struct {
	Type        string      `json:"type"`
	ToAddress   string      `json:"to_address"`
	FromAddress string      `json:"from_address"`
	SessionID   string      `json:"sessionId"`
	Timestamp   epochMillis `json:"timestamp"`
	Nonce       string      `json:"nonce"`
}

// epochMillis accepts any integral JSON number, including exponent forms
// such as 1.7e12.
type epochMillis int64

func (m *epochMillis) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	n := json.Number(b)
	if v, err := n.Int64(); err == nil {
		*m = epochMillis(v)
		return nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
		return fmt.Errorf("timestamp %s is not an integer", b)
	}
	*m = epochMillis(f)
	return nil
}

func (pingFrame) frameType() string { return "ping" }
func (registerFrame) frameType() string { return "register" }
func (msgSendFrame) frameType() string { return "msg:send" }
func (callInitFrame) frameType() string { return "call:init" }
func (f callControlFrame) frameType() string { return f.Type }

func (pingFrame) needsRegistration() bool { return false }
func (registerFrame) needsRegistration() bool { return false }
func (msgSendFrame) needsRegistration() bool { return true }
func (callInitFrame) needsRegistration() bool { return true }
func (callControlFrame) needsRegistration() bool { return true }

type frameKind struct {
	schema string
	decode func([]byte) (inbound, error)
}

func decodeAs[T inbound](data []byte) (inbound, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

var frameKinds = map[string]frameKind{
	"ping":               {"ping.json", decodeAs[pingFrame]},
	"register":           {"register.json", decodeAs[registerFrame]},
	"msg:send":           {"msg_send.json", decodeAs[msgSendFrame]},
	"call:init":          {"call_init.json", decodeAs[callInitFrame]},
	core.TypeCallRinging: {"call_control.json", decodeAs[callControlFrame]},
	core.TypeCallAccept:  {"call_control.json", decodeAs[callControlFrame]},
	core.TypeCallReject:  {"call_control.json", decodeAs[callControlFrame]},
	core.TypeCallEnd:     {"call_control.json", decodeAs[callControlFrame]},
}

var errMalformed = errors.New("malformed frame")

// codec validates raw frames against their schema and decodes them into
// one of the inbound variants.
type codec struct {
	schemas map[string]*jsonschema.Schema
}

func newCodec() (*codec, error) {
	compiler := jsonschema.NewCompiler()
	c := &codec{schemas: make(map[string]*jsonschema.Schema)}
	for typ, kind := range frameKinds {
		url := "callvault://schemas/" + kind.schema
		if _, ok := c.schemas[kind.schema]; !ok {
			f, err := schemaFS.Open("schemas/" + kind.schema)
			if err != nil {
				return nil, fmt.Errorf("open schema %s: %w", kind.schema, err)
			}
			err = compiler.AddResource(url, f)
			_ = f.Close()
			if err != nil {
				return nil, fmt.Errorf("add schema resource %s: %w", kind.schema, err)
			}
			s, err := compiler.Compile(url)
			if err != nil {
				return nil, fmt.Errorf("compile schema %s: %w", kind.schema, err)
			}
			c.schemas[kind.schema] = s
		}
		c.schemas[typ] = c.schemas[kind.schema]
	}
	return c, nil
}

func (c *codec) decode(data []byte) (inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", errMalformed)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing type", errMalformed)
	}
	kind, ok := frameKinds[head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", errMalformed, head.Type)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", errMalformed)
	}
	if err := c.schemas[head.Type].Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", errMalformed, head.Type, leafMessage(err))
	}
	f, err := kind.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errMalformed, head.Type, err)
	}
	return f, nil
}

// leafMessage digs out the most specific validation failure.
func leafMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation != "" {
		return ve.InstanceLocation + ": " + ve.Message
	}
	return ve.Message
}
