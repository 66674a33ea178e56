package service

import (
	"context"
	"fmt"
	"time"

	"pvemigrate/internal/collab"
	"pvemigrate/internal/migrate"
	"pvemigrate/pkg/jwt"
	"pvemigrate/pkg/log"
	"pvemigrate/pkg/proxmox"
	"pvemigrate/pkg/tunnel"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// nodeTokenTTL 节点间 API 调用使用的 bearer token 有效期
const nodeTokenTTL = 10 * time.Minute

// tunnelOpener 按迁移类型打开到目标节点的隧道，节点地址来自 cluster.nodes.<name>.*
type tunnelOpener struct {
	conf   *viper.Viper
	jwt    *jwt.JWT
	logger *log.Logger
}

func NewTunnelOpener(conf *viper.Viper, jwt *jwt.JWT, logger *log.Logger) migrate.TunnelOpener {
	return &tunnelOpener{conf: conf, jwt: jwt, logger: logger}
}

func (o *tunnelOpener) Open(ctx context.Context, task *collab.MigrationTask) (tunnel.Tunnel, error) {
	key := "cluster.nodes." + task.TargetNode
	if !o.conf.IsSet(key) {
		return nil, fmt.Errorf("no such cluster node '%s'", task.TargetNode)
	}
	task.TargetAddr = o.conf.GetString(key + ".addr")
	logger := o.logger.WithContext(ctx)

	switch task.Opts.MigrationType {
	case collab.TypeWebsocket:
		api := o.conf.GetString(key + ".api")
		if api == "" {
			return nil, fmt.Errorf("no API endpoint configured for node '%s'", task.TargetNode)
		}
		token, err := o.jwt.GenToken("node:"+task.Node, time.Now().Add(nodeTokenTTL))
		if err != nil {
			return nil, err
		}
		client, err := proxmox.NewProxmoxClient(api, token, o.conf.GetBool("cluster.insecure_tls"))
		if err != nil {
			return nil, err
		}
		logger.Info("opening websocket tunnel", zap.String("endpoint", api))
		return tunnel.OpenWebsocket(ctx, client, task.VMID, logger)
	default:
		cfg := tunnel.SSHConfig{
			Host:       task.TargetAddr,
			Port:       o.conf.GetInt("tunnel.ssh.port"),
			User:       o.conf.GetString("tunnel.ssh.user"),
			KeyFile:    o.conf.GetString("tunnel.ssh.key_file"),
			KnownHosts: o.conf.GetString("tunnel.ssh.known_hosts"),
			Helper:     o.conf.GetString("tunnel.ssh.helper"),
			Timeout:    o.conf.GetDuration("tunnel.ssh.timeout"),
		}
		if cfg.Host == "" {
			return nil, fmt.Errorf("no address configured for node '%s'", task.TargetNode)
		}
		logger.Info("opening ssh tunnel", zap.String("host", cfg.Host))
		return tunnel.OpenSSH(ctx, cfg, task.VMID, logger)
	}
}
