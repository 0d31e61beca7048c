package testkit

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/meshlink/trace"
)

// Upstream 假上游服务
type Upstream struct {
	Host   string
	Port   int
	URL    string
	Server *httptest.Server
}

// NewUpstream 启动一个带 otelgin 中间件的 gin 假上游，routes 注册路由，测试结束时关闭
func NewUpstream(t *testing.T, routes func(r *gin.Engine)) *Upstream {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(trace.GinMiddleware("upstream"))
	routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split upstream address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse upstream port: %v", err)
	}
	return &Upstream{Host: host, Port: port, URL: srv.URL, Server: srv}
}

// NewStatusUpstream 对任意 GET 请求返回固定状态码和 {"upstream": name}
func NewStatusUpstream(t *testing.T, name string, status int) *Upstream {
	return NewUpstream(t, func(r *gin.Engine) {
		r.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet {
				c.Status(http.StatusMethodNotAllowed)
				return
			}
			c.JSON(status, gin.H{"upstream": name, "path": c.Request.URL.Path})
		})
	})
}
