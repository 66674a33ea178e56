package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	v1 "pvemigrate/api/v1"
	"pvemigrate/internal/mtunnel"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/tunnel"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AppVersion 节点 API 的版本
const AppVersion = "1.0.0"

type TunnelService interface {
	// CreateTunnel 为 vmid 准备目标端会话并签发控制通道票据
	CreateTunnel(ctx context.Context, vmid uint32) (*v1.TunnelData, error)
	VerifyTicket(ctx context.Context, vmid uint32, ticket, socket string) error
	// ServeWebsocket 控制通道运行隧道命令，其他 socket 做字节转发
	ServeWebsocket(ctx context.Context, vmid uint32, socket string, conn *websocket.Conn) error
	Version(ctx context.Context) *v1.VersionData
}

func NewTunnelService(
	service *Service,
	deps mtunnel.Deps,
	conf mtunnel.Config,
	logger *log.Logger,
) TunnelService {
	return &tunnelService{
		Service:  service,
		deps:     deps,
		conf:     conf,
		logger:   logger,
		sessions: make(map[uint32]*tunnelSession),
	}
}

type tunnelSession struct {
	handler  *mtunnel.Handler
	attached bool
	expire   *time.Timer
}

type tunnelService struct {
	*Service
	deps   mtunnel.Deps
	conf   mtunnel.Config
	logger *log.Logger

	mu       sync.Mutex
	sessions map[uint32]*tunnelSession
}

func (s *tunnelService) ticketTTL() time.Duration {
	if s.conf.TicketTTL > 0 {
		return s.conf.TicketTTL
	}
	return time.Minute
}

func (s *tunnelService) CreateTunnel(ctx context.Context, vmid uint32) (*v1.TunnelData, error) {
	socket := mtunnel.ControlSocket(s.conf.RunDir, vmid)
	ticket, err := s.jwt.GenTunnelTicket(vmid, s.node, socket, s.ticketTTL())
	if err != nil {
		s.logger.WithContext(ctx).Error("failed to sign tunnel ticket", zap.Error(err))
		return nil, v1.ErrInternalServerError
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[vmid]; ok {
		return nil, v1.ErrTunnelBusy
	}
	sess := &tunnelSession{handler: mtunnel.NewHandler(vmid, s.deps, s.logger, s.conf)}
	// 票据过期前没有连上的会话直接丢弃
	sess.expire = time.AfterFunc(s.ticketTTL(), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.sessions[vmid]; ok && cur == sess && !sess.attached {
			delete(s.sessions, vmid)
			s.logger.Warn("tunnel session expired before connect", zap.Uint32("vmid", vmid))
		}
	})
	s.sessions[vmid] = sess

	s.logger.WithContext(ctx).Info("tunnel session created", zap.Uint32("vmid", vmid))
	return &v1.TunnelData{Ticket: ticket, Socket: socket}, nil
}

func (s *tunnelService) VerifyTicket(ctx context.Context, vmid uint32, ticket, socket string) error {
	if _, err := s.jwt.ParseTunnelTicket(ticket, vmid, socket); err != nil {
		s.logger.WithContext(ctx).Warn("tunnel ticket rejected", zap.Uint32("vmid", vmid), zap.Error(err))
		return v1.ErrInvalidTunnelTicket
	}
	return nil
}

func (s *tunnelService) session(vmid uint32) *tunnelSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[vmid]
}

func (s *tunnelService) ServeWebsocket(ctx context.Context, vmid uint32, socket string, conn *websocket.Conn) error {
	if socket == mtunnel.ControlSocket(s.conf.RunDir, vmid) {
		return s.serveControl(ctx, vmid, conn)
	}
	sess := s.session(vmid)
	if sess == nil {
		conn.Close()
		return fmt.Errorf("no tunnel for VM %d", vmid)
	}
	if !sess.handler.Allowed(socket) {
		conn.Close()
		return fmt.Errorf("socket '%s' is not forwarded for VM %d", socket, vmid)
	}
	return s.forward(ctx, socket, conn)
}

func (s *tunnelService) serveControl(ctx context.Context, vmid uint32, conn *websocket.Conn) error {
	s.mu.Lock()
	sess, ok := s.sessions[vmid]
	if !ok || sess.attached {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("no pending tunnel for VM %d", vmid)
	}
	sess.attached = true
	sess.expire.Stop()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.sessions[vmid] == sess {
			delete(s.sessions, vmid)
		}
		s.mu.Unlock()
	}()
	s.logger.WithContext(ctx).Info("tunnel control channel connected", zap.Uint32("vmid", vmid))
	return sess.handler.Serve(ctx, tunnel.NewWSLineConn(conn))
}

func (s *tunnelService) forward(ctx context.Context, socket string, conn *websocket.Conn) error {
	ws := tunnel.NewWSStream(conn)
	defer ws.Close()

	var d net.Dialer
	uc, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return fmt.Errorf("unable to connect to '%s': %w", socket, err)
	}
	defer uc.Close()
	stop := context.AfterFunc(ctx, func() {
		ws.Close()
		uc.Close()
	})
	defer stop()

	logger := s.logger.WithContext(ctx)
	var g errgroup.Group
	g.Go(func() error {
		n, err := io.Copy(uc, ws)
		logger.Debug("bytes written to local socket", zap.Int64("bytes", n), zap.String("socket", socket))
		if cw, ok := uc.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
		return err
	})
	g.Go(func() error {
		n, err := io.Copy(ws, uc)
		logger.Debug("bytes read from local socket", zap.Int64("bytes", n), zap.String("socket", socket))
		ws.Close()
		return err
	})
	if err := g.Wait(); err != nil && !isClosed(err) {
		return err
	}
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}

func (s *tunnelService) Version(ctx context.Context) *v1.VersionData {
	lv := tunnel.LocalVersion()
	return &v1.VersionData{
		Version: AppVersion,
		Node:    s.node,
		Tunnel:  v1.TunnelVersion{API: lv.API, Age: lv.Age},
	}
}
