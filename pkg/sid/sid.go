package sid

import (
	"errors"
	"fmt"

	"github.com/sony/sonyflake"
	"github.com/spf13/viper"
)

type Sid struct {
	sf *sonyflake.Sonyflake
}

// NewSid 默认以私网 IP 低 16 位作为机器号，没有私网地址的节点需要配置 node.machine_id
func NewSid(conf *viper.Viper) *Sid {
	var st sonyflake.Settings
	if conf.IsSet("node.machine_id") {
		id := uint16(conf.GetUint("node.machine_id"))
		st.MachineID = func() (uint16, error) { return id, nil }
	}
	sf := sonyflake.NewSonyflake(st)
	if sf == nil {
		panic("sonyflake not created")
	}
	return &Sid{sf}
}

// GenTaskID 生成迁移任务 ID，格式与 PVE UPID 类似：UPID:<node>:<id>:qmigrate:<vmid>
func (s Sid) GenTaskID(node string, vmid uint32) (string, error) {
	id, err := s.sf.NextID()
	if err != nil {
		return "", errors.New("failed to generate sonyflake ID: " + err.Error())
	}
	return fmt.Sprintf("UPID:%s:%s:qmigrate:%d", node, IntToBase62(int(id)), vmid), nil
}

func (s Sid) GenString() (string, error) {
	id, err := s.sf.NextID()
	if err != nil {
		return "", errors.New("failed to generate sonyflake ID: " + err.Error())
	}
	return IntToBase62(int(id)), nil
}

func (s Sid) GenUint64() (uint64, error) {
	return s.sf.NextID()
}

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func IntToBase62(n int) string {
	if n == 0 {
		return string(base62Chars[0])
	}
	var result []byte
	for n > 0 {
		result = append(result, base62Chars[n%62])
		n /= 62
	}
	// reverse
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return string(result)
}
