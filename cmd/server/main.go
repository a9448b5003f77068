package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/syncroom/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 80,
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	heartbeatInterval = configVar[time.Duration]{
		envKey:       "SERVER_HEARTBEAT_INTERVAL",
		flagKey:      "heartbeat-interval",
		defaultValue: 500 * time.Millisecond,
	}
	shareTokenTTL = configVar[time.Duration]{
		envKey:       "SERVER_SHARE_TOKEN_TTL",
		flagKey:      "share-token-ttl",
		defaultValue: 24 * time.Hour,
	}
	pendingRequestTTL = configVar[time.Duration]{
		envKey:       "SERVER_PENDING_REQUEST_TTL",
		flagKey:      "pending-request-ttl",
		defaultValue: 0,
	}
	sendBuffer = configVar[int]{
		envKey:       "SERVER_SEND_BUFFER",
		flagKey:      "send-buffer",
		defaultValue: 64,
	}
	messagesPerSecond = configVar[float64]{
		envKey:       "SERVER_MESSAGES_PER_SECOND",
		flagKey:      "messages-per-second",
		defaultValue: 50,
	}
	messageBurst = configVar[int]{
		envKey:       "SERVER_MESSAGE_BURST",
		flagKey:      "message-burst",
		defaultValue: 100,
	}
	tokenStore = configVar[string]{
		envKey:       "SERVER_TOKEN_STORE",
		flagKey:      "token-store",
		defaultValue: app.TokenStoreMemory,
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Duration(heartbeatInterval.flagKey, heartbeatInterval.defaultValue, "Leader heartbeat interval announced to clients")
	pflag.Duration(shareTokenTTL.flagKey, shareTokenTTL.defaultValue, "Share token lifetime")
	pflag.Duration(pendingRequestTTL.flagKey, pendingRequestTTL.defaultValue, "Join request lifetime, 0 keeps requests until answered")
	pflag.Int(sendBuffer.flagKey, sendBuffer.defaultValue, "Outbound messages buffered per connection")
	pflag.Float64(messagesPerSecond.flagKey, messagesPerSecond.defaultValue, "Inbound messages allowed per connection per second, 0 disables the limit")
	pflag.Int(messageBurst.flagKey, messageBurst.defaultValue, "Inbound message burst per connection")
	pflag.String(tokenStore.flagKey, tokenStore.defaultValue, "Share token store (memory|redis)")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(heartbeatInterval.flagKey, heartbeatInterval.envKey)
	viper.BindEnv(shareTokenTTL.flagKey, shareTokenTTL.envKey)
	viper.BindEnv(pendingRequestTTL.flagKey, pendingRequestTTL.envKey)
	viper.BindEnv(sendBuffer.flagKey, sendBuffer.envKey)
	viper.BindEnv(messagesPerSecond.flagKey, messagesPerSecond.envKey)
	viper.BindEnv(messageBurst.flagKey, messageBurst.envKey)
	viper.BindEnv(tokenStore.flagKey, tokenStore.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)

	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(heartbeatInterval.flagKey, heartbeatInterval.defaultValue)
	viper.SetDefault(shareTokenTTL.flagKey, shareTokenTTL.defaultValue)
	viper.SetDefault(pendingRequestTTL.flagKey, pendingRequestTTL.defaultValue)
	viper.SetDefault(sendBuffer.flagKey, sendBuffer.defaultValue)
	viper.SetDefault(messagesPerSecond.flagKey, messagesPerSecond.defaultValue)
	viper.SetDefault(messageBurst.flagKey, messageBurst.defaultValue)
	viper.SetDefault(tokenStore.flagKey, tokenStore.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)

	config := &app.AppConfig{
		Host:              viper.GetString(host.flagKey),
		Port:              viper.GetInt(port.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
		HeartbeatInterval: viper.GetDuration(heartbeatInterval.flagKey),
		ShareTokenTTL:     viper.GetDuration(shareTokenTTL.flagKey),
		PendingRequestTTL: viper.GetDuration(pendingRequestTTL.flagKey),
		SendBuffer:        viper.GetInt(sendBuffer.flagKey),
		MessagesPerSecond: viper.GetFloat64(messagesPerSecond.flagKey),
		MessageBurst:      viper.GetInt(messageBurst.flagKey),
		TokenStore:        viper.GetString(tokenStore.flagKey),
		RedisPort:         viper.GetInt(redisPort.flagKey),
		RedisHost:         viper.GetString(redisHost.flagKey),
		RedisPassword:     viper.GetString(redisPassword.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	if err := app.Run(ctx, appConfig); err != nil {
		log.Fatal(err)
	}
}
