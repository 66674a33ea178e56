package tunnel

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxLineSize = 4 << 20

type streamLineConn struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer
	wmu    sync.Mutex
}

// NewStreamLineConn 以换行分隔的字节流（ssh 会话、stdin/stdout）
func NewStreamLineConn(r io.Reader, w io.Writer, closer io.Closer) LineConn {
	return &streamLineConn{r: bufio.NewReaderSize(r, 64*1024), w: w, closer: closer}
}

func (c *streamLineConn) WriteLine(line []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := c.w.Write(buf)
	return err
}

func (c *streamLineConn) ReadLine() ([]byte, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if len(line) > maxLineSize {
			return nil, bufio.ErrTooLong
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *streamLineConn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

type wsLineConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// NewWSLineConn 每条 text 消息是一行
func NewWSLineConn(conn *websocket.Conn) LineConn {
	return &wsLineConn{conn: conn}
}

func (c *wsLineConn) WriteLine(line []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, line)
}

func (c *wsLineConn) ReadLine() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		if data = bytes.TrimSpace(data); len(data) > 0 {
			return data, nil
		}
	}
}

func (c *wsLineConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

// WSStream 把 websocket 的 binary 消息当作字节流
type WSStream struct {
	conn *websocket.Conn
	r    io.Reader
	wmu  sync.Mutex
}

func NewWSStream(conn *websocket.Conn) *WSStream {
	return &WSStream{conn: conn}
}

func (s *WSStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			mt, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *WSStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *WSStream) Close() error {
	s.wmu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}
