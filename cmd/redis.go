package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"UltimateDJ/cache"
	"UltimateDJ/db"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，并打印持久化的规范状态与在线参与者。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := db.ConnectRedis(cfg)
		if err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer db.CloseRedis()
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		states := cache.NewStateCache(client)

		state, err := states.Load(ctx)
		if err != nil {
			log.Fatalf("读取状态失败: %v", err)
		}
		if state == nil {
			fmt.Println("尚未保存任何状态")
		} else {
			if at, err := states.SavedAt(ctx); err == nil && !at.IsZero() {
				fmt.Printf("最后保存时间: %s\n", at.Format("2006-01-02 15:04:05"))
			}
			data, _ := json.MarshalIndent(state, "", "  ")
			fmt.Println(string(data))
		}

		online, err := states.Participants(ctx)
		if err != nil {
			log.Fatalf("读取在线参与者失败: %v", err)
		}
		fmt.Printf("在线参与者: %d\n", len(online))
		for id, role := range online {
			fmt.Printf("  ├─ %s (%s)\n", id, role)
		}
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
