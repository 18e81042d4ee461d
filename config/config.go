package config

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DBDriver    string        `yaml:"db_driver"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Redis       Redis         `yaml:"redis"`
	Kafka       Kafka         `yaml:"kafka"`
	Provider    Provider      `yaml:"provider"`
	Recording   Recording     `yaml:"recording"`
	RTC         RTC           `yaml:"rtc"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Provider struct {
	BaseURL        string        `yaml:"base_url"`
	AppId          string        `yaml:"app_id"`
	CustomerKey    string        `yaml:"customer_key"`
	CustomerSecret string        `yaml:"customer_secret"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Recording bounds every wait in the recording pipeline.
type Recording struct {
	RecorderUid          string        `yaml:"recorder_uid"`
	KeyPrefix            string        `yaml:"key_prefix"`
	WorkDir              string        `yaml:"work_dir"`
	ProviderAttempts     int           `yaml:"provider_attempts"`
	ProviderDelay        time.Duration `yaml:"provider_delay"`
	QueryAttempts        int           `yaml:"query_attempts"`
	QueryDelay           time.Duration `yaml:"query_delay"`
	StillRecordingDelay  time.Duration `yaml:"still_recording_delay"`
	SettleDelay          time.Duration `yaml:"settle_delay"`
	StorageCheckAttempts int           `yaml:"storage_check_attempts"`
	StorageCheckDelay    time.Duration `yaml:"storage_check_delay"`
	DownloadAttempts     int           `yaml:"download_attempts"`
	DownloadDelay        time.Duration `yaml:"download_delay"`
	PlaybackURLTTL       time.Duration `yaml:"playback_url_ttl"`
	StuckAfter           time.Duration `yaml:"stuck_after"`
}

type RTC struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	AppId    string        `yaml:"app_id"`
}

func (r Recording) Validate() error {
	if r.ProviderAttempts <= 0 {
		return fmt.Errorf("recording.provider_attempts must be positive, got %d", r.ProviderAttempts)
	}
	if r.QueryAttempts <= 0 {
		return fmt.Errorf("recording.query_attempts must be positive, got %d", r.QueryAttempts)
	}
	if r.StorageCheckAttempts <= 0 {
		return fmt.Errorf("recording.storage_check_attempts must be positive, got %d", r.StorageCheckAttempts)
	}
	if r.DownloadAttempts <= 0 {
		return fmt.Errorf("recording.download_attempts must be positive, got %d", r.DownloadAttempts)
	}
	if r.ProviderDelay < 0 || r.QueryDelay < 0 || r.StorageCheckDelay < 0 || r.DownloadDelay < 0 || r.SettleDelay < 0 || r.StillRecordingDelay < 0 {
		return fmt.Errorf("recording delays must not be negative")
	}
	if r.RecorderUid == "" {
		return fmt.Errorf("recording.recorder_uid is required")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("database.driver", DriverPostgres)
	viper.SetDefault("sqlite_path", "live-academy.db")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.workers", 2)
	viper.SetDefault("rabbitmq_kind", "topic")
	viper.SetDefault("redis.lock_ttl", 30*time.Second)
	viper.SetDefault("kafka.topic", "recording.events")
	viper.SetDefault("provider.request_timeout", 15*time.Second)
	viper.SetDefault("recording.recorder_uid", "527841")
	viper.SetDefault("recording.key_prefix", "recordings")
	viper.SetDefault("recording.work_dir", "temp")
	viper.SetDefault("recording.provider_attempts", 3)
	viper.SetDefault("recording.provider_delay", time.Second)
	viper.SetDefault("recording.query_attempts", 10)
	viper.SetDefault("recording.query_delay", 3*time.Second)
	viper.SetDefault("recording.still_recording_delay", 5*time.Second)
	viper.SetDefault("recording.settle_delay", 10*time.Second)
	viper.SetDefault("recording.storage_check_attempts", 6)
	viper.SetDefault("recording.storage_check_delay", 5*time.Second)
	viper.SetDefault("recording.download_attempts", 5)
	viper.SetDefault("recording.download_delay", 3*time.Second)
	viper.SetDefault("recording.playback_url_ttl", time.Hour)
	viper.SetDefault("recording.stuck_after", 30*time.Minute)
	viper.SetDefault("rtc.token_ttl", 2*time.Hour)
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	driver := viper.GetString("database.driver")
	var db *sql.DB
	switch driver {
	case DriverPostgres:
		db, err = sql.Open("postgres", viper.GetString("postgresql_host"))
	case DriverSQLite:
		db, err = sql.Open("sqlite3", viper.GetString("sqlite_path"))
	default:
		return nil, fmt.Errorf("unsupported database.driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host: viper.GetString("rabbitmq_host"),
		Port: viper.GetInt("rabbitmq_port"),
		User: viper.GetString("rabbitmq_user"),
		Pass: viper.GetString("rabbitmq_pass"),
		Kind: viper.GetString("rabbitmq_kind"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: viper.GetBool("minio.secure"),
	})
	if err != nil {
		return nil, err
	}

	recording := Recording{
		RecorderUid:          viper.GetString("recording.recorder_uid"),
		KeyPrefix:            viper.GetString("recording.key_prefix"),
		WorkDir:              viper.GetString("recording.work_dir"),
		ProviderAttempts:     viper.GetInt("recording.provider_attempts"),
		ProviderDelay:        viper.GetDuration("recording.provider_delay"),
		QueryAttempts:        viper.GetInt("recording.query_attempts"),
		QueryDelay:           viper.GetDuration("recording.query_delay"),
		StillRecordingDelay:  viper.GetDuration("recording.still_recording_delay"),
		SettleDelay:          viper.GetDuration("recording.settle_delay"),
		StorageCheckAttempts: viper.GetInt("recording.storage_check_attempts"),
		StorageCheckDelay:    viper.GetDuration("recording.storage_check_delay"),
		DownloadAttempts:     viper.GetInt("recording.download_attempts"),
		DownloadDelay:        viper.GetDuration("recording.download_delay"),
		PlaybackURLTTL:       viper.GetDuration("recording.playback_url_ttl"),
		StuckAfter:           viper.GetDuration("recording.stuck_after"),
	}
	if err := recording.Validate(); err != nil {
		return nil, err
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		DBDriver: driver,
		DB:       db,
		Queue:    rabbitmq,
		Storage:  minioClient,
		Redis: Redis{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			LockTTL:  viper.GetDuration("redis.lock_ttl"),
		},
		Kafka: Kafka{
			Brokers: viper.GetStringSlice("kafka.brokers"),
			Topic:   viper.GetString("kafka.topic"),
		},
		Provider: Provider{
			BaseURL:        viper.GetString("provider.base_url"),
			AppId:          viper.GetString("provider.app_id"),
			CustomerKey:    viper.GetString("provider.customer_key"),
			CustomerSecret: viper.GetString("provider.customer_secret"),
			RequestTimeout: viper.GetDuration("provider.request_timeout"),
		},
		Recording: recording,
		RTC: RTC{
			Secret:   viper.GetString("rtc.secret"),
			TokenTTL: viper.GetDuration("rtc.token_ttl"),
			AppId:    viper.GetString("rtc.app_id"),
		},
	}, nil
}
