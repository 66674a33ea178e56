package tunnel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request 控制通道上的一行请求
type Request struct {
	Cmd    string          `json:"cmd"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response 控制通道上的一行应答
type Response struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var ErrTimeout = errors.New("tunnel: timeout")

var ErrClosed = errors.New("tunnel: closed")

// RemoteError 远端执行命令失败
type RemoteError struct {
	Cmd string
	Msg string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tunnel command '%s' failed - %s", e.Cmd, e.Msg)
}

func NewRequest(cmd string, params interface{}) ([]byte, error) {
	req := Request{Cmd: cmd}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	return json.Marshal(req)
}

// OK 构造成功应答
func OK(data interface{}) Response {
	resp := Response{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Fail(err)
		}
		resp.Data = raw
	}
	return resp
}

func Fail(err error) Response {
	return Response{Success: false, Msg: err.Error()}
}

// 命令参数与结果

type QuitParams struct {
	Cleanup bool `json:"cleanup"`
}

type TicketParams struct {
	Path string `json:"path"`
}

type TicketResult struct {
	Ticket string `json:"ticket"`
}
