package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"UltimateDJ/storage"

	"github.com/spf13/cobra"
)

var mediaPrefix string

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "MinIO媒体文件列表",
	Long:  `列出媒体存储中的文件及统计信息；未配置 MinIO 时读取本地目录。`,
	Run: func(cmd *cobra.Command, args []string) {
		var store storage.MediaStore
		location := cfg.MediaDir
		if cfg.MinioEnabled() {
			ms, err := storage.NewMinioStore(cfg)
			if err != nil {
				log.Fatalf("无法连接到MinIO: %v", err)
			}
			store, location = ms, cfg.MinioEndpoint+"/"+cfg.MinioBucket
		} else {
			store = storage.NewLocalStore(cfg.MediaDir)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		objects, err := store.List(ctx, mediaPrefix)
		if err != nil {
			log.Fatalf("列出对象失败: %v", err)
		}
		stats := storage.Stats(objects)

		fmt.Printf("\n📊 媒体存储: %s\n", location)
		fmt.Printf("🔍 前缀过滤: %s\n", mediaPrefix)
		fmt.Printf("📝 总文件数: %d\n", stats.TotalObjects)
		fmt.Printf("💾 总存储大小: %s\n", storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf("🕒 最后更新时间: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
		for _, obj := range objects {
			fmt.Printf("  ├─ %s  %s  %s\n", obj.Key, storage.FormatSize(obj.Size), obj.ContentType)
		}
	},
}

func init() {
	mediaCmd.Flags().StringVarP(&mediaPrefix, "prefix", "p", "", "only list keys with this prefix")
	rootCmd.AddCommand(mediaCmd)
}
