package config

import (
	"fmt"
	"os"
	"strconv"

	"dario.cat/mergo"
)

// Settings are the process level settings read from the environment.
type Settings struct {
	Region           string
	Domain           string
	DecisionTaskList string
	ActivityTaskList string
	LambdaRole       string
	ConfigPath       string
	// RemotePath is a YAML snapshot served as the extraction remote.
	RemotePath string

	TableName    string
	PartitionKey string
	SortKey      string
	IndexName    string

	RedisAddr   string
	RedisPrefix string

	QueueURL string

	Pollers  int
	HTTPPort int
}

// DefaultSettings returns the settings used for anything the environment leaves unset.
func DefaultSettings() Settings {
	return Settings{
		Region:           "us-east-1",
		Domain:           "leech",
		DecisionTaskList: "leech-decisions",
		ActivityTaskList: "leech-tasks",
		TableName:        "GraphObjects",
		PartitionKey:     "sid_value",
		SortKey:          "identifier_stem",
		IndexName:        "stems",
		RedisPrefix:      "leech",
		Pollers:          4,
		HTTPPort:         8080,
	}
}

// FromEnv reads Settings from the environment, filling gaps from DefaultSettings.
func FromEnv() (Settings, error) {
	s := Settings{
		Region:           os.Getenv("AWS_REGION"),
		Domain:           os.Getenv("SWF_DOMAIN"),
		DecisionTaskList: os.Getenv("DECISION_TASK_LIST"),
		ActivityTaskList: os.Getenv("ACTIVITY_TASK_LIST"),
		LambdaRole:       os.Getenv("LAMBDA_ROLE"),
		ConfigPath:       os.Getenv("LEECH_CONFIG"),
		RemotePath:       os.Getenv("LEECH_REMOTE"),
		TableName:        os.Getenv("TABLE_NAME"),
		PartitionKey:     os.Getenv("PARTITION_KEY"),
		SortKey:          os.Getenv("SORT_KEY"),
		IndexName:        os.Getenv("INDEX_NAME"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPrefix:      os.Getenv("REDIS_PREFIX"),
		QueueURL:         os.Getenv("SQS_QUEUE_URL"),
		Pollers:          envInt("LEECH_POLLERS"),
		HTTPPort:         envInt("LEECH_HTTP_PORT"),
	}
	if err := mergo.Merge(&s, DefaultSettings()); err != nil {
		return Settings{}, fmt.Errorf("merge default settings: %w", err)
	}
	return s, nil
}

func envInt(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return n
}
