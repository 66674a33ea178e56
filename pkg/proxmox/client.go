package proxmox

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pvemigrate/pkg/tunnel"

	"github.com/gorilla/websocket"
)

// ProxmoxClient 访问集群中另一个节点的 API（迁移目标端）
type ProxmoxClient struct {
	baseUrl    *url.URL
	httpClient *http.Client
	insecure   bool
	Token      string // Bearer token，节点间共享密钥签发
}

func NewProxmoxClient(apiURL string, token string, insecure bool) (*ProxmoxClient, error) {
	baseUrl, err := url.Parse(apiURL)
	if err != nil {
		return nil, err
	}
	return &ProxmoxClient{
		baseUrl: baseUrl,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
			},
		},
		insecure: insecure,
		Token:    token,
	}, nil
}

// APIError 对端返回的非 0 业务码
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node API error (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

func (c *ProxmoxClient) Request(ctx context.Context, req *http.Request, result interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var apiResp struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		// 非标准格式，返回原始响应体
		if resp.StatusCode >= 400 {
			return fmt.Errorf("node API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return err
	}
	if resp.StatusCode >= 400 || apiResp.Code != 0 {
		return &APIError{Status: resp.StatusCode, Code: apiResp.Code, Message: apiResp.Message}
	}
	if result != nil && len(apiResp.Data) > 0 && string(apiResp.Data) != "null" {
		return json.Unmarshal(apiResp.Data, result)
	}
	return nil
}

func (c *ProxmoxClient) Get(ctx context.Context, path string, result interface{}) error {
	endpoint := c.baseUrl.JoinPath("/api/v1", path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.Request(ctx, req, result)
}

func (c *ProxmoxClient) Post(ctx context.Context, path string, body, result interface{}) error {
	endpoint := c.baseUrl.JoinPath("/api/v1", path).String()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Request(ctx, req, result)
}

// VersionInfo GET /api/v1/version
type VersionInfo struct {
	Version string         `json:"version"`
	Tunnel  tunnel.Version `json:"tunnel"`
}

func (c *ProxmoxClient) GetVersion(ctx context.Context) (*VersionInfo, error) {
	var result VersionInfo
	if err := c.Get(ctx, "/version", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateTunnel 在目标节点上为 vmid 创建隧道
// POST /api/v1/qemu/{vmid}/mtunnel
func (c *ProxmoxClient) CreateTunnel(ctx context.Context, vmid uint32) (*tunnel.Ticket, error) {
	var result tunnel.Ticket
	if err := c.Post(ctx, fmt.Sprintf("/qemu/%d/mtunnel", vmid), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DialTunnel 打开隧道控制通道或某个 socket 的转发通道
// GET /api/v1/qemu/{vmid}/mtunnelwebsocket?ticket=&socket=
func (c *ProxmoxClient) DialTunnel(ctx context.Context, vmid uint32, ticket, socket string) (*websocket.Conn, error) {
	params := url.Values{}
	params.Set("ticket", ticket)
	params.Set("socket", socket)
	conn, _, err := c.WebSocket(ctx, fmt.Sprintf("/qemu/%d/mtunnelwebsocket", vmid), params.Encode())
	return conn, err
}

func (c *ProxmoxClient) WebSocket(ctx context.Context, path, params string) (*websocket.Conn, *http.Response, error) {
	scheme := "wss"
	if c.baseUrl.Scheme == "http" {
		scheme = "ws"
	}
	endpoint := fmt.Sprintf("%s://%s/api/v1%s?%s", scheme, c.baseUrl.Host, path, params)
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second
	dialer.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: c.insecure,
	}
	dialer.ReadBufferSize = 8192
	dialer.WriteBufferSize = 8192

	requestHeader := http.Header{}
	requestHeader.Add("Authorization", "Bearer "+c.Token)

	conn, resp, err := dialer.DialContext(ctx, endpoint, requestHeader)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}
