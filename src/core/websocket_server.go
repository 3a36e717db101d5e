package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"facemesh-server-go/src/configs"
	"facemesh-server-go/src/core/detect"
	"facemesh-server-go/src/core/utils"

	"github.com/gorilla/websocket"
)

// WebSocketServer WebSocket服务器结构
type WebSocketServer struct {
	config            *configs.Config
	server            *http.Server
	upgrader          Upgrader
	logger            *utils.Logger
	bridge            *Bridge
	detector          *detect.Service
	activeConnections sync.Map
}

// Upgrader WebSocket升级器接口
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error)
}

// Conn WebSocket连接接口
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// NewWebSocketServer 创建新的WebSocket服务器
func NewWebSocketServer(config *configs.Config, logger *utils.Logger, detector *detect.Service) (*WebSocketServer, error) {
	if detector == nil {
		return nil, fmt.Errorf("检测服务未初始化")
	}

	ws := &WebSocketServer{
		config:   config,
		logger:   logger,
		upgrader: NewDefaultUpgrader(),
		detector: detector,
		bridge:   NewBridge(detector, logger),
	}

	return ws, nil
}

// Start 启动WebSocket服务器
func (ws *WebSocketServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", ws.config.Server.IP, ws.config.Server.Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/", ws.handleWebSocket)

	ws.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	ws.logger.Info(fmt.Sprintf("正在启动WebSocket服务器于 ws://%s...", addr))

	// 启动服务器关闭监控
	go func() {
		<-ctx.Done()
		ws.logger.Info("收到关闭信号，准备关闭服务器...")
		if err := ws.Stop(); err != nil {
			ws.logger.Error(fmt.Sprintf("服务器关闭时出错: %v", err))
		}
	}()

	// 启动服务器
	if err := ws.server.ListenAndServe(); err != nil {
		if err == http.ErrServerClosed {
			ws.logger.Info("服务器已正常关闭")
			return nil
		}
		ws.logger.Error(fmt.Sprintf("服务器启动失败: %v", err))
		return fmt.Errorf("服务器启动失败: %v", err)
	}

	return nil
}

// defaultUpgrader 默认的WebSocket升级器实现
type defaultUpgrader struct {
	wsUpgrader *websocket.Upgrader
}

// NewDefaultUpgrader 创建默认的WebSocket升级器
func NewDefaultUpgrader() *defaultUpgrader {
	return &defaultUpgrader{
		wsUpgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源的连接
			},
		},
	}
}

// websocketConn 封装gorilla/websocket的连接实现
type websocketConn struct {
	conn *websocket.Conn
}

func (w *websocketConn) ReadMessage() (messageType int, p []byte, err error) {
	return w.conn.ReadMessage()
}

func (w *websocketConn) WriteMessage(messageType int, data []byte) error {
	return w.conn.WriteMessage(messageType, data)
}

func (w *websocketConn) Close() error {
	return w.conn.Close()
}

// Upgrade 实现Upgrader接口
func (u *defaultUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, err := u.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}

// Stop 停止WebSocket服务器
func (ws *WebSocketServer) Stop() error {
	if ws.server != nil {
		ws.logger.Info("正在关闭WebSocket服务器...")

		// 关闭所有活动连接
		ws.activeConnections.Range(func(key, value interface{}) bool {
			if conn, ok := value.(Conn); ok {
				conn.Close()
			}
			return true
		})

		// 关闭服务器
		if err := ws.server.Close(); err != nil {
			return fmt.Errorf("服务器关闭失败: %v", err)
		}
	}
	return nil
}

// handleWebSocket 处理WebSocket连接
func (ws *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r)
	if err != nil {
		ws.logger.Error(fmt.Sprintf("WebSocket升级失败: %v", err))
		return
	}

	connID := fmt.Sprintf("%p", conn)
	ws.activeConnections.Store(connID, conn)
	ws.logger.Info("客户端已连接", map[string]interface{}{
		"conn_id": connID,
		"remote":  r.RemoteAddr,
	})

	go ws.serveConn(r.Context(), connID, conn)
}

// serveConn 单个连接的消息循环：逐条读取请求、分发并回写响应
func (ws *WebSocketServer) serveConn(ctx context.Context, connID string, conn Conn) {
	defer func() {
		ws.activeConnections.Delete(connID)
		conn.Close()
		ws.logger.Info("客户端已断开", map[string]interface{}{
			"conn_id": connID,
		})
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			// 协议只接受文本帧，忽略其他类型
			continue
		}

		response := ws.bridge.Dispatch(ctx, payload)
		data, err := json.Marshal(response)
		if err != nil {
			ws.logger.Error(fmt.Sprintf("响应序列化失败: %v", err))
			continue
		}

		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			ws.logger.Warn("响应写入失败，关闭连接", map[string]interface{}{
				"conn_id": connID,
				"error":   err.Error(),
			})
			return
		}
	}
}
