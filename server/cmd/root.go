package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wavehq/wavechat/server/adaptor"
	"github.com/wavehq/wavechat/server/repository"
	"github.com/wavehq/wavechat/server/usecase"
)

var cfgFile string

const (
	listenAddrKey    = "listen_addr"
	redisAddrKey     = "redis_addr"
	redisPasswordKey = "redis_password"
	redisDBKey       = "redis_db"
	databasePathKey  = "database_path"
	jwtSecretKey     = "jwt_secret"
	evictionGraceKey = "eviction_grace"
	storeTimeoutKey  = "store_timeout"
	useMemoryKey     = "use_memory_store"
)

var rootCmd = &cobra.Command{
	Use:   "wavechat",
	Short: "Real-time chat coordination server",
	Long: `wavechat serves the websocket chat gateway: session tickets,
connection tracking with duplicate-login eviction, room membership,
paginated history and streamed AI replies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./wavechat.yaml)")
	rootCmd.Flags().String("listen", ":8080", "HTTP listen address")
	rootCmd.Flags().String("redis", "", "redis address; empty selects the in-memory store")
	rootCmd.Flags().String("db", "./wavechat.db", "sqlite database path")

	viper.BindPFlag(listenAddrKey, rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag(redisAddrKey, rootCmd.Flags().Lookup("redis"))
	viper.BindPFlag(databasePathKey, rootCmd.Flags().Lookup("db"))

	viper.SetDefault(listenAddrKey, ":8080")
	viper.SetDefault(redisAddrKey, "")
	viper.SetDefault(redisPasswordKey, "")
	viper.SetDefault(redisDBKey, 0)
	viper.SetDefault(databasePathKey, "./wavechat.db")
	viper.SetDefault(jwtSecretKey, "")
	viper.SetDefault(evictionGraceKey, usecase.DefaultEvictionGrace)
	viper.SetDefault(storeTimeoutKey, repository.DefaultStoreTimeout)
	viper.SetDefault(useMemoryKey, false)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("wavechat")
	}

	viper.SetEnvPrefix("WAVECHAT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

func runServer(cmd *cobra.Command) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	secret := viper.GetString(jwtSecretKey)
	if secret == "" {
		return fmt.Errorf("%s must be set (config file or WAVECHAT_JWT_SECRET)", jwtSecretKey)
	}

	db, err := sql.Open("sqlite3", viper.GetString(databasePathKey))
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer db.Close()

	repo := repository.NewRepository(db)
	if err := repo.Migrate(cmd.Context()); err != nil {
		return err
	}

	var store usecase.StateStore
	redisAddr := viper.GetString(redisAddrKey)
	if redisAddr == "" || viper.GetBool(useMemoryKey) {
		logger.Warn("shared state store is in-memory, duplicate-login eviction is per-node only")
		store = repository.NewMemoryStore()
	} else {
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: viper.GetString(redisPasswordKey),
			DB:       viper.GetInt(redisDBKey),
		})
		defer client.Close()
		store = repository.NewRedisStore(client, viper.GetDuration(storeTimeoutKey))
	}

	identity := repository.NewJWTIdentity([]byte(secret), repo)
	hub := adaptor.NewHub(logger)
	producer := repository.NewCannedProducer(40 * time.Millisecond)

	uc := usecase.NewCoordinator(repo, store, identity, hub, producer, usecase.SystemClock(), logger, usecase.Options{
		EvictionGrace: viper.GetDuration(evictionGraceKey),
	})
	gateway := adaptor.NewGateway(uc, hub, logger)

	addr := viper.GetString(listenAddrKey)
	logger.Info("server listening", "addr", addr)
	if err := http.ListenAndServe(addr, gateway.Routes()); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
