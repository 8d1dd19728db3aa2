package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config 中继与视图共用的应用配置
type Config struct {
	// 中继
	ListenAddr string
	MediaDir   string // 未配置 MinIO 时 /media 使用的本地目录
	// 视图
	RelayURL   string // 中继的 http(s) 地址，ws 地址由此推导
	RelayToken string
	TuningFile string
	// MySQL配置
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	// 认证
	AuthSecret            string // 参与者令牌的 HMAC 密钥，为空时关闭认证
	ControlPassphraseHash string // POST /api/auth/token 校验的 bcrypt 哈希
	// 日志
	LogLevel string
	LogFile  string
}

// getEnv 读取环境变量，不存在时返回默认值
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt 以整数读取环境变量，不存在时返回默认值
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// Load 从环境变量（.env 文件）或默认值加载配置
func Load() *Config {
	// godotenv.Load() 不覆盖已设置的变量
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":3001"),
		MediaDir:   getEnv("MEDIA_DIR", "data/audio"),

		RelayURL:   getEnv("RELAY_URL", "http://localhost:3001"),
		RelayToken: getEnv("RELAY_TOKEN", ""),
		TuningFile: getEnv("TUNING_FILE", "dj.toml"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "ultimate_dj"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "ultimate-dj"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		AuthSecret:            os.Getenv("AUTH_SECRET"),
		ControlPassphraseHash: os.Getenv("CONTROL_PASSPHRASE_HASH"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// MinioEnabled 是否从对象存储提供媒体
func (c *Config) MinioEnabled() bool {
	return c.MinioEndpoint != ""
}
