package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"equity-bar-ingestor/internal/service"
	"equity-bar-ingestor/internal/store"
)

// token 太短基本是误操作，直接拒绝
const minTokenLength = 8

// Server 暴露运维与查询接口：
//   - POST /api/token        写入 override token 文件（采集核心只消费文件本身）
//   - GET  /api/bars         全量最新 bar 快照
//   - GET  /api/bars/recent  最近 N 分钟内更新过的 bar
type Server struct {
	store         *store.Store
	tokenFilePath string
	listenAddr    string
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// New 创建运维接口服务
func New(cfg *service.ServerConfig, feedCfg *service.FeedConfig, s *store.Store) *Server {
	return &Server{
		store:         s,
		tokenFilePath: feedCfg.TokenFilePath,
		listenAddr:    cfg.ListenAddr,
	}
}

// Router 组装 gin 路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/token", s.updateToken)
		api.GET("/bars", s.allBars)
		api.GET("/bars/recent", s.recentBars)
	}
	return r
}

// Run 阻塞运行 HTTP 服务
func (s *Server) Run() error {
	service.Logger.Info("Operator API listening", zap.String("addr", s.listenAddr))
	return s.Router().Run(s.listenAddr)
}

// updateToken 校验并落盘新的会话 token。
// 采集核心在下一次建连时读到新值，运行中的会话不受影响。
func (s *Server) updateToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "token is required"})
		return
	}

	token := strings.TrimSpace(req.Token)
	if len(token) < minTokenLength {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "token too short"})
		return
	}

	if dir := filepath.Dir(s.tokenFilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to persist token"})
			return
		}
	}
	if err := os.WriteFile(s.tokenFilePath, []byte(token+"\n"), 0o600); err != nil {
		service.Logger.Error("Failed to write override token file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to persist token"})
		return
	}

	service.Logger.Info("Override session token updated", zap.String("path", s.tokenFilePath))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) allBars(c *gin.Context) {
	bars := s.store.GetAll()
	c.JSON(http.StatusOK, gin.H{"count": len(bars), "bars": bars})
}

func (s *Server) recentBars(c *gin.Context) {
	minutes := 5
	if raw := c.Query("minutes"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "minutes must be a positive integer"})
			return
		}
		minutes = v
	}

	bars := s.store.GetRecent(time.Duration(minutes) * time.Minute)
	c.JSON(http.StatusOK, gin.H{"count": len(bars), "bars": bars})
}
