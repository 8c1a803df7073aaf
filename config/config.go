package config

import (
	"database/sql"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Pipeline    Pipeline      `yaml:"pipeline"`
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
	Host           string `json:"host"`
	Port           int    `json:"port"`
	User           string `json:"user"`
	Pass           string `json:"pass"`
	Kind           string `json:"kind"`
	JobsExchange   string `json:"jobs_exchange"`
	EventsExchange string `json:"events_exchange"`
}

// Pipeline holds the orchestration knobs. IngestionVersion is the pipeline's
// current idempotency fingerprint: clips already at this version are skipped.
type Pipeline struct {
	IngestionVersion     int    `yaml:"ingestion_version"`
	IngestConcurrency    int    `yaml:"ingest_concurrency"`
	JobAttempts          int    `yaml:"job_attempts"`
	UploadTimeoutMinutes int    `yaml:"upload_timeout_minutes"`
	PlaylistPrefix       string `yaml:"playlist_prefix"`
	MediaBaseURL         string `yaml:"media_base_url"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	viper.SetDefault("pipeline.ingestion_version", 1)
	viper.SetDefault("pipeline.ingest_concurrency", 10)
	viper.SetDefault("pipeline.job_attempts", 2)
	viper.SetDefault("pipeline.upload_timeout_minutes", 60)
	viper.SetDefault("pipeline.playlist_prefix", "playlists")

	rabbitmq := &RabbitMQ{
		Host:           viper.GetString("rabbitmq_host"),
		Port:           viper.GetInt("rabbitmq_port"),
		User:           viper.GetString("rabbitmq_user"),
		Pass:           viper.GetString("rabbitmq_pass"),
		Kind:           viper.GetString("rabbitmq_kind"),
		JobsExchange:   "pipeline_jobs_exchange",
		EventsExchange: "pipeline_events_exchange",
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
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
		Pipeline: Pipeline{
			IngestionVersion:     viper.GetInt("pipeline.ingestion_version"),
			IngestConcurrency:    viper.GetInt("pipeline.ingest_concurrency"),
			JobAttempts:          viper.GetInt("pipeline.job_attempts"),
			UploadTimeoutMinutes: viper.GetInt("pipeline.upload_timeout_minutes"),
			PlaylistPrefix:       viper.GetString("pipeline.playlist_prefix"),
			MediaBaseURL:         viper.GetString("pipeline.media_base_url"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}
