// meshd 加载 meshlink 配置并运行网格核心，demo 子命令在本机起若干假上游演示负载均衡、
// 熔断、确认式发布和本地事件总线。
//
//	meshd run --config-dir ./configs
//	meshd demo --instances 3 --flaky 1 --requests 30 --strategy least_connections
//	meshd config
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
