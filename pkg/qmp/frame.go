package qmp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Delimiter guest agent 在 guest-sync-delimited 的应答前写入的字节
const Delimiter = 0xff

const maxFrameSize = 1 << 20

type ErrorBody struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

type Timestamp struct {
	Seconds      int64 `json:"seconds"`
	Microseconds int64 `json:"microseconds"`
}

// Message 对端发送的一帧
type Message struct {
	Greeting  json.RawMessage `json:"QMP,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *Timestamp      `json:"timestamp,omitempty"`
	Return    json.RawMessage `json:"return,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty"`
	ID        json.RawMessage `json:"id,omitempty"`
	// vzdump 客户端握手，只有 eventd 关心
	Vzdump json.RawMessage `json:"vzdump,omitempty"`

	// Delimited 帧前是否带有 0xff
	Delimited bool `json:"-"`
}

func (m *Message) IsGreeting() bool { return len(m.Greeting) > 0 }
func (m *Message) IsEvent() bool    { return m.Event != "" }
func (m *Message) IsReturn() bool   { return len(m.Return) > 0 }
func (m *Message) IsError() bool    { return m.Error != nil }

func (m *Message) Time() time.Time {
	if m.Timestamp == nil {
		return time.Time{}
	}
	return time.Unix(m.Timestamp.Seconds, m.Timestamp.Microseconds*1000)
}

// Decoder 按行读取 JSON 帧
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// Next 读取下一帧，空行被跳过；无法解析的帧返回 ErrProtocol
func (d *Decoder) Next() (*Message, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return nil, err
		}
		delimited := false
		for len(line) > 0 && line[0] == Delimiter {
			delimited = true
			line = line[1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		msg := &Message{}
		if err := json.Unmarshal(line, msg); err != nil {
			return nil, fmt.Errorf("%w: malformed frame: %v", ErrProtocol, err)
		}
		msg.Delimited = delimited
		return msg, nil
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := d.r.ReadLine()
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > maxFrameSize {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrProtocol, maxFrameSize)
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

type request struct {
	Execute   string      `json:"execute"`
	Arguments interface{} `json:"arguments,omitempty"`
	ID        interface{} `json:"id,omitempty"`
}

// EncodeCommand 编码一条以换行结尾的命令
func EncodeCommand(name string, args interface{}, id interface{}) ([]byte, error) {
	data, err := json.Marshal(request{Execute: name, Arguments: args, ID: id})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
