package transfer

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type MessageType string

const (
	// MessageFile announces a file the client is about to stream. Client to server.
	MessageFile MessageType = "File"
	// MessageLink carries the session identifier once a file is stored. Server to client.
	MessageLink MessageType = "Link"
	// MessageError is sent best-effort before the server closes a session on failure.
	MessageError MessageType = "Error"
)

var (
	ErrMalformedMessage = errors.New("malformed control message")
	ErrUnknownMessage   = errors.New("unknown control message")
)

// Message is one control message. On the wire it is an object with exactly one key naming the
// variant, e.g. {"File":{"file":"a.txt","size":3}} or {"Link":{"link":"ABCDE"}}.
type Message struct {
	Type MessageType

	// File
	File string
	Size uint64
	// Link
	Link string
	// Error
	Error string
}

func FileMessage(name string, size uint64) Message {
	return Message{Type: MessageFile, File: name, Size: size}
}

func LinkMessage(id string) Message {
	return Message{Type: MessageLink, Link: id}
}

func ErrorMessage(msg string) Message {
	return Message{Type: MessageError, Error: msg}
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := []byte(`{}`)
	var err error
	switch m.Type {
	case MessageFile:
		out, err = sjson.SetBytes(out, "File.file", m.File)
		if err == nil {
			out, err = sjson.SetRawBytes(out, "File.size", strconv.AppendUint(nil, m.Size, 10))
		}
	case MessageLink:
		out, err = sjson.SetBytes(out, "Link.link", m.Link)
	case MessageError:
		out, err = sjson.SetBytes(out, "Error.error", m.Error)
	default:
		return nil, fmt.Errorf("MarshalJSON: %w: %q", ErrUnknownMessage, m.Type)
	}
	return out, err
}

func (m *Message) UnmarshalJSON(data []byte) error {
	parsed, err := ParseMessage(data)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMessage decodes a control message. Unknown fields inside a variant are ignored, missing
// or mistyped fields are ErrMalformedMessage, and an unrecognised variant is ErrUnknownMessage.
func ParseMessage(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, ErrMalformedMessage
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Message{}, ErrMalformedMessage
	}
	var variant string
	var body gjson.Result
	numKeys := 0
	root.ForEach(func(k, v gjson.Result) bool {
		numKeys++
		variant = k.String()
		body = v
		return numKeys < 2
	})
	if numKeys != 1 || !body.IsObject() {
		return Message{}, ErrMalformedMessage
	}
	switch MessageType(variant) {
	case MessageFile:
		file := body.Get("file")
		size := body.Get("size")
		if file.Type != gjson.String || size.Type != gjson.Number {
			return Message{}, ErrMalformedMessage
		}
		// size.Uint() would silently accept floats and negative numbers
		n, err := strconv.ParseUint(size.Raw, 10, 64)
		if err != nil {
			return Message{}, ErrMalformedMessage
		}
		return FileMessage(file.String(), n), nil
	case MessageLink:
		link := body.Get("link")
		if link.Type != gjson.String {
			return Message{}, ErrMalformedMessage
		}
		return LinkMessage(link.String()), nil
	case MessageError:
		e := body.Get("error")
		if e.Type != gjson.String {
			return Message{}, ErrMalformedMessage
		}
		return ErrorMessage(e.String()), nil
	}
	return Message{}, ErrUnknownMessage
}
