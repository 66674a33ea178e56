package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

func NewConfig(p string) *viper.Viper {
	envConf := os.Getenv("APP_CONF")
	if envConf == "" {
		envConf = p
	}
	fmt.Fprintln(os.Stderr, "load conf file:", envConf)
	return getConfig(envConf)
}

func getConfig(path string) *viper.Viper {
	conf := viper.New()
	conf.SetConfigFile(path)
	setDefaults(conf)
	err := conf.ReadInConfig()
	if err != nil {
		panic(err)
	}
	return conf
}

// setDefaults 迁移相关的策略常量，配置文件中可以覆盖
func setDefaults(conf *viper.Viper) {
	conf.SetDefault("node.run_dir", "/var/run/qemu-server")
	conf.SetDefault("node.lock_ttl", 2*time.Hour)

	conf.SetDefault("migrate.poll_interval", 2*time.Second)
	conf.SetDefault("migrate.min_poll_interval", 500*time.Millisecond)
	conf.SetDefault("migrate.log_every", 5)
	conf.SetDefault("migrate.stall_threshold", 5)
	conf.SetDefault("migrate.downtime", 100*time.Millisecond)
	conf.SetDefault("migrate.max_downtime", 30*time.Second)
	conf.SetDefault("migrate.fallback_bwlimit_kib", 0)
	conf.SetDefault("migrate.xbzrle_cache_min", 64*1024*1024)
	conf.SetDefault("migrate.socket_wait_retries", 50)
	conf.SetDefault("migrate.socket_wait_interval", 100*time.Millisecond)

	conf.SetDefault("tunnel.ssh.port", 22)
	conf.SetDefault("tunnel.ssh.user", "root")
	conf.SetDefault("tunnel.ssh.known_hosts", "/etc/pve/priv/known_hosts")
	conf.SetDefault("tunnel.ssh.helper", "/usr/bin/pvemigrate-mtunnel")
	conf.SetDefault("tunnel.ws.handshake_timeout", 30*time.Second)
	conf.SetDefault("tunnel.ticket_ttl", 60*time.Second)
	conf.SetDefault("tunnel.import_timeout", 5*time.Minute)
	conf.SetDefault("tunnel.stop_timeout", 60*time.Second)

	conf.SetDefault("eventd.socket", "/var/run/qmeventd.sock")
	conf.SetDefault("eventd.kill_timeout", 60*time.Second)
	conf.SetDefault("eventd.cleanup_cmd", "/usr/sbin/qm")

	conf.SetDefault("job.prune_cron", "0 0 * * * *")
	conf.SetDefault("job.retention", 7*24*time.Hour)
}
