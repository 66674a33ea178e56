package v1

// 迁移隧道（目标端）相关 API 定义

type TunnelData struct {
	Ticket string `json:"ticket"`
	Socket string `json:"socket" example:"/var/run/qemu-server/100.mtunnel"`
}

// CreateTunnelResponse 创建隧道响应
type CreateTunnelResponse struct {
	Response
	Data TunnelData `json:"data"`
}

// TunnelWebsocketRequest 打开隧道 websocket 请求
type TunnelWebsocketRequest struct {
	Ticket string `form:"ticket" binding:"required"`
	Socket string `form:"socket" binding:"required"`
}

// VersionData 节点版本
type VersionData struct {
	Version string        `json:"version" example:"1.0.0"`
	Node    string        `json:"node" example:"pve01"`
	Tunnel  TunnelVersion `json:"tunnel"`
}

// TunnelVersion 隧道协议版本，age 为向后兼容的版本数
type TunnelVersion struct {
	API int `json:"api" example:"2"`
	Age int `json:"age" example:"1"`
}

type VersionResponse struct {
	Response
	Data VersionData `json:"data"`
}
