/*
Package envelope defines the JSON frame exchanged with the management
controller and the companion process. Every frame carries a header (ids,
timestamp, sync flag), a route (source, group, operation, resource) and a
content body.
*/
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultGroup     = "hub"
	DefaultOperation = "update"
	DefaultSource    = "hardware"

	topicPrefix    = "$hw/edge/v1/hardware/operate/"
	resourcePrefix = "websocket/"

	maxRouteFieldLen = 256
)

type Header struct {
	MsgId     string `json:"msg_id"`
	ParentId  string `json:"parent_msg_id"`
	Timestamp int64  `json:"timestamp"`
	Sync      bool   `json:"sync"`
}

type Route struct {
	Source    string `json:"source"`
	Group     string `json:"group"`
	Operation string `json:"operation"`
	Resource  string `json:"resource"`
}

type Envelope struct {
	Header  Header `json:"header"`
	Route   Route  `json:"route"`
	Content any    `json:"content"`
}

type Option func(*Envelope)

func WithParent(parentId string) Option {
	return func(e *Envelope) { e.Header.ParentId = parentId }
}

func WithSync(sync bool) Option {
	return func(e *Envelope) { e.Header.Sync = sync }
}

func WithGroup(group string) Option {
	return func(e *Envelope) { e.Route.Group = group }
}

func WithOperation(operation string) Option {
	return func(e *Envelope) { e.Route.Operation = operation }
}

func WithSource(source string) Option {
	return func(e *Envelope) { e.Route.Source = source }
}

func Build(content any, resource string, opts ...Option) (*Envelope, error) {
	if resource == "" {
		return nil, fmt.Errorf("cannot build message without a resource")
	}

	env := &Envelope{
		Header: Header{
			MsgId:     uuid.New().String(),
			Timestamp: time.Now().UnixMilli(),
		},
		Route: Route{
			Source:    DefaultSource,
			Group:     DefaultGroup,
			Operation: DefaultOperation,
			Resource:  resource,
		},
		Content: content,
	}

	for _, opt := range opts {
		opt(env)
	}

	return env, nil
}

// Topic is the resource addressed in the controller's topic namespace
func (e *Envelope) Topic() string {
	return topicPrefix + strings.TrimPrefix(e.Route.Resource, resourcePrefix)
}

// Payload is the content alone, JSON encoded
func (e *Envelope) Payload() ([]byte, error) {
	return json.Marshal(e.Content)
}

// Wire renders the frame as sent on the socket. The controller expects the
// content field to be a string, so structured content is JSON encoded first.
// The wire form carries no content kind: nil content is sent as "", and a
// string holding a JSON object or array is indistinguishable from structured
// content. Parse therefore returns "" and the decoded structure for those.
func (e *Envelope) Wire() ([]byte, error) {
	wire := struct {
		Header  Header `json:"header"`
		Route   Route  `json:"route"`
		Content string `json:"content"`
	}{
		Header: e.Header,
		Route:  e.Route,
	}

	switch content := e.Content.(type) {
	case string:
		wire.Content = content
	case nil:
		wire.Content = ""
	default:
		encoded, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("failed to encode content for resource %s: %w", e.Route.Resource, err)
		}
		wire.Content = string(encoded)
	}

	return json.Marshal(wire)
}

// DecodeContent unmarshals the content into v
func (e *Envelope) DecodeContent(v any) error {
	var raw []byte
	if s, ok := e.Content.(string); ok {
		raw = []byte(s)
	} else {
		var err error
		if raw, err = json.Marshal(e.Content); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, v)
}

// Parse validates and decodes a frame off the wire. Frames of maxSize bytes or
// more are rejected without being decoded. String content that holds a JSON
// object or array comes back decoded; see Wire.
func Parse(raw []byte, maxSize int) (*Envelope, error) {
	if maxSize > 0 && len(raw) >= maxSize {
		return nil, &MalformedMessageError{Reason: fmt.Sprintf("message of %d bytes exceeds limit of %d", len(raw), maxSize)}
	}

	var wire struct {
		Header  *Header         `json:"header"`
		Route   *Route          `json:"route"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &MalformedMessageError{Reason: "invalid json", Err: err}
	}

	if err := validate(wire.Header, wire.Route); err != nil {
		return nil, err
	}

	content, err := decodeContent(wire.Content)
	if err != nil {
		return nil, &MalformedMessageError{Reason: "invalid content", Err: err}
	}

	return &Envelope{
		Header:  *wire.Header,
		Route:   *wire.Route,
		Content: content,
	}, nil
}

func validate(header *Header, route *Route) error {
	switch {
	case header == nil:
		return &MalformedMessageError{Reason: "missing header"}
	case route == nil:
		return &MalformedMessageError{Reason: "missing route"}
	case header.MsgId == "":
		return &MalformedMessageError{Reason: "missing msg_id"}
	case header.Timestamp < 0:
		return &MalformedMessageError{Reason: "negative timestamp"}
	}

	fields := map[string]string{
		"resource":  route.Resource,
		"source":    route.Source,
		"group":     route.Group,
		"operation": route.Operation,
	}
	for name, value := range fields {
		if value == "" {
			return &MalformedMessageError{Reason: fmt.Sprintf("missing route %s", name)}
		}
		if len(value) > maxRouteFieldLen {
			return &MalformedMessageError{Reason: fmt.Sprintf("route %s too long", name)}
		}
	}

	return nil
}

// A string holding a JSON object or array is what Wire produces for
// structured content, so it is decoded back into that structure.
func decodeContent(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var content any
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, err
	}

	s, ok := content.(string)
	if !ok {
		return content, nil
	}

	trimmed := bytes.TrimSpace([]byte(s))
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return s, nil
	}

	var structured any
	if err := json.Unmarshal(trimmed, &structured); err != nil {
		return s, nil
	}
	return structured, nil
}
