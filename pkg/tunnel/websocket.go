package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"pvemigrate/pkg/log"

	"github.com/gorilla/websocket"
)

// Ticket 目标节点签发的一次性隧道凭证
type Ticket struct {
	Ticket string `json:"ticket"`
	Socket string `json:"socket"`
}

// WSEndpoint 目标节点的 API
type WSEndpoint interface {
	CreateTunnel(ctx context.Context, vmid uint32) (*Ticket, error)
	DialTunnel(ctx context.Context, vmid uint32, ticket, socket string) (*websocket.Conn, error)
}

// OpenWebsocket 控制通道和每个转发连接各用一个 websocket
func OpenWebsocket(ctx context.Context, ep WSEndpoint, vmid uint32, logger *log.Logger) (*Channel, error) {
	t, err := ep.CreateTunnel(ctx, vmid)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket tunnel: %w", err)
	}
	conn, err := ep.DialTunnel(ctx, vmid, t.Ticket, t.Socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect websocket tunnel: %w", err)
	}

	var ch *Channel
	dial := func(ctx context.Context, remote string) (io.ReadWriteCloser, error) {
		ret, err := ch.Write(ctx, "ticket", TicketParams{Path: remote}, 0)
		if err != nil {
			return nil, err
		}
		var tr TicketResult
		if err := json.Unmarshal(ret, &tr); err != nil {
			return nil, fmt.Errorf("unable to parse socket ticket: %w", err)
		}
		wc, err := ep.DialTunnel(ctx, vmid, tr.Ticket, remote)
		if err != nil {
			return nil, err
		}
		return NewWSStream(wc), nil
	}
	ch = NewChannel(ProtoWebsocket, NewWSLineConn(conn), dial, nil, logger)
	if err := ch.Negotiate(ctx); err != nil {
		ch.abort()
		return nil, err
	}
	return ch, nil
}
