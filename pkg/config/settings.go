package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/provisioner/pkg/config/configstore"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultIdentityKey    = "ssh-admin"
	DefaultMaxAttempts    = 10
	DefaultRetryDelay     = 15 * time.Second
	DefaultAttemptTimeout = 5 * time.Minute
	DefaultHandshake      = 10 * time.Second
	DefaultPoolSize       = 10
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the provisioner's configuration document.
type Settings struct {
	SSH          SSHSettings          `yaml:"ssh" bson:"ssh" json:"ssh"`
	Provisioning ProvisioningSettings `yaml:"provisioning" bson:"provisioning" json:"provisioning"`
	Secrets      SecretsSettings      `yaml:"secrets" bson:"secrets" json:"secrets"`
	Kafka        KafkaSettings        `yaml:"kafka" bson:"kafka" json:"kafka"`
	Workers      WorkerSettings       `yaml:"workers" bson:"workers" json:"workers"`
}

type SSHSettings struct {
	Port             int           `yaml:"port" bson:"port" json:"port" validate:"gte=1,lte=65535"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" bson:"handshake_timeout" json:"handshake_timeout" validate:"gt=0"`
	KnownHostsPath   string        `yaml:"known_hosts" bson:"known_hosts" json:"known_hosts,omitempty"`
}

type ProvisioningSettings struct {
	IdentityKey string `yaml:"identity_key" bson:"identity_key" json:"identity_key" validate:"required"`
	MaxAttempts int    `yaml:"max_attempts" bson:"max_attempts" json:"max_attempts" validate:"gte=1"`
	// RetryDelay of 0 means DefaultRetryDelay.
	RetryDelay     time.Duration `yaml:"retry_delay" bson:"retry_delay" json:"retry_delay" validate:"gt=0"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" bson:"attempt_timeout" json:"attempt_timeout" validate:"gt=0"`
	// ExitCodeOnly drops the stderr "error"/"failed" heuristic.
	ExitCodeOnly bool `yaml:"exit_code_only" bson:"exit_code_only" json:"exit_code_only"`
}

type SecretsSettings struct {
	Backend         string `yaml:"backend" bson:"backend" json:"backend" validate:"oneof=file mongo"`
	Path            string `yaml:"path" bson:"path" json:"path,omitempty" validate:"required_if=Backend file"`
	MongoURI        string `yaml:"mongo_uri" bson:"mongo_uri" json:"mongo_uri,omitempty" validate:"required_if=Backend mongo"`
	MongoDB         string `yaml:"mongo_db" bson:"mongo_db" json:"mongo_db,omitempty"`
	MongoCollection string `yaml:"mongo_collection" bson:"mongo_collection" json:"mongo_collection,omitempty"`
	AgeIdentityFile string `yaml:"age_identity_file" bson:"age_identity_file" json:"age_identity_file,omitempty"`
}

type KafkaSettings struct {
	Brokers      []string `yaml:"brokers" bson:"brokers" json:"brokers"`
	RequestTopic string   `yaml:"request_topic" bson:"request_topic" json:"request_topic"`
	ResultTopic  string   `yaml:"result_topic" bson:"result_topic" json:"result_topic"`
	GroupID      string   `yaml:"group_id" bson:"group_id" json:"group_id"`
}

type WorkerSettings struct {
	PoolSize int `yaml:"pool_size" bson:"pool_size" json:"pool_size" validate:"gte=1"`
}

var validate = validator.New()

// Default returns settings with every default applied.
func Default() Settings {
	var s Settings
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills zero values. A zero duration or count is never a
// meaningful setting, so 0 in the document selects the default.
func (s *Settings) ApplyDefaults() {
	if s.SSH.Port == 0 {
		s.SSH.Port = 22
	}
	if s.SSH.HandshakeTimeout == 0 {
		s.SSH.HandshakeTimeout = DefaultHandshake
	}
	if s.Provisioning.IdentityKey == "" {
		s.Provisioning.IdentityKey = DefaultIdentityKey
	}
	if s.Provisioning.MaxAttempts == 0 {
		s.Provisioning.MaxAttempts = DefaultMaxAttempts
	}
	if s.Provisioning.RetryDelay == 0 {
		s.Provisioning.RetryDelay = DefaultRetryDelay
	}
	if s.Provisioning.AttemptTimeout == 0 {
		s.Provisioning.AttemptTimeout = DefaultAttemptTimeout
	}
	if s.Secrets.Backend == "" {
		s.Secrets.Backend = "file"
	}
	if s.Secrets.Backend == "file" && s.Secrets.Path == "" {
		s.Secrets.Path = "secrets.yaml"
	}
	if s.Secrets.MongoDB == "" {
		s.Secrets.MongoDB = "provisioner"
	}
	if s.Secrets.MongoCollection == "" {
		s.Secrets.MongoCollection = "identities"
	}
	if s.Kafka.RequestTopic == "" {
		s.Kafka.RequestTopic = "provision-requests"
	}
	if s.Kafka.ResultTopic == "" {
		s.Kafka.ResultTopic = "provision-results"
	}
	if s.Kafka.GroupID == "" {
		s.Kafka.GroupID = "provisioner"
	}
	if s.Workers.PoolSize == 0 {
		s.Workers.PoolSize = DefaultPoolSize
	}
}

func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// LoadSettings reads the document from store, applies defaults and validates.
// A missing document yields the defaults.
func LoadSettings(store configstore.ConfigStore) (Settings, error) {
	var s Settings
	if err := store.Load(&s); err != nil && !errors.Is(err, configstore.ErrNotFound) {
		return Settings{}, err
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
