package tunnel

import (
	"errors"
	"fmt"
)

// 本端实现的隧道协议版本，Age 表示向下兼容的版本数
const (
	ProtocolVersion = 2
	ProtocolAge     = 1
)

var ErrIncompatibleVersion = errors.New("tunnel: incompatible version")

// Version 一端声明的版本及兼容窗口 [Version-Age, Version]
type Version struct {
	API int `json:"api"`
	Age int `json:"age"`
}

func LocalVersion() Version {
	return Version{API: ProtocolVersion, Age: ProtocolAge}
}

func (v Version) Min() int { return v.API - v.Age }

// Negotiate 两端区间有交集时返回双方都支持的最高版本
func Negotiate(local, remote Version) (int, error) {
	if local.Min() > remote.API {
		return 0, fmt.Errorf("%w: remote tunnel endpoint too old (remote version %d, local minimum %d)",
			ErrIncompatibleVersion, remote.API, local.Min())
	}
	if remote.Min() > local.API {
		return 0, fmt.Errorf("%w: local tunnel endpoint too old (local version %d, remote minimum %d)",
			ErrIncompatibleVersion, local.API, remote.Min())
	}
	if local.API < remote.API {
		return local.API, nil
	}
	return remote.API, nil
}
