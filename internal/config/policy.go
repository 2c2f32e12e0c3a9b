package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Policy carries the tunables that may change at runtime without a restart.
type Policy struct {
	EditWindow       time.Duration `mapstructure:"editWindow"`
	TypingTTL        time.Duration `mapstructure:"typingTTL"`
	GuestsCanPost    bool          `mapstructure:"guestsCanPost"`
	MaxMessageLength int           `mapstructure:"maxMessageLength"`
	MaxAttachments   int           `mapstructure:"maxAttachments"`
	DefaultPageSize  int           `mapstructure:"defaultPageSize"`
	MaxPageSize      int           `mapstructure:"maxPageSize"`
	FanoutQueueSize  int           `mapstructure:"fanoutQueueSize"`
	FanoutWorkers    int           `mapstructure:"fanoutWorkers"`
	SubscriberBuffer int           `mapstructure:"subscriberBuffer"`
	MessageRate      float64       `mapstructure:"messageRate"`
	MessageBurst     int           `mapstructure:"messageBurst"`
}

func DefaultPolicy() Policy {
	return Policy{
		EditWindow:       15 * time.Minute,
		TypingTTL:        5 * time.Second,
		GuestsCanPost:    true,
		MaxMessageLength: 4000,
		MaxAttachments:   10,
		DefaultPageSize:  50,
		MaxPageSize:      100,
		FanoutQueueSize:  1024,
		FanoutWorkers:    4,
		SubscriberBuffer: 64,
		MessageRate:      5,
		MessageBurst:     20,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder pins the policy, without watching any file.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder(cfg Config) (*PolicyHolder, error) {
	v := viper.New()

	if cfg.PolicyPath != "" {
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("comms")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/comms/config") // Volume-mounted config
		v.AddConfigPath("/etc/comms")            // System config
		v.AddConfigPath(".")                     // Current directory (dev mode)
	}

	v.SetEnvPrefix("COMMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setPolicyDefaults(v, DefaultPolicy())

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		found = false
	}

	// Keys absent from the file keep their defaults.
	p := DefaultPolicy()
	if err := v.UnmarshalKey("comms", &p); err != nil {
		return nil, err
	}
	if err := validatePolicy(p); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(p)
	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultPolicy()
		if err := v.UnmarshalKey("comms", &updated); err != nil {
			log.Printf("[comms-policy] reload failed: %v", err)
			return
		}
		if err := validatePolicy(updated); err != nil {
			log.Printf("[comms-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[comms-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	return h.current.Load().(Policy)
}

func setPolicyDefaults(v *viper.Viper, p Policy) {
	v.SetDefault("comms.editWindow", p.EditWindow)
	v.SetDefault("comms.typingTTL", p.TypingTTL)
	v.SetDefault("comms.guestsCanPost", p.GuestsCanPost)
	v.SetDefault("comms.maxMessageLength", p.MaxMessageLength)
	v.SetDefault("comms.maxAttachments", p.MaxAttachments)
	v.SetDefault("comms.defaultPageSize", p.DefaultPageSize)
	v.SetDefault("comms.maxPageSize", p.MaxPageSize)
	v.SetDefault("comms.fanoutQueueSize", p.FanoutQueueSize)
	v.SetDefault("comms.fanoutWorkers", p.FanoutWorkers)
	v.SetDefault("comms.subscriberBuffer", p.SubscriberBuffer)
	v.SetDefault("comms.messageRate", p.MessageRate)
	v.SetDefault("comms.messageBurst", p.MessageBurst)
}

func validatePolicy(p Policy) error {
	if p.EditWindow <= 0 {
		return errors.New("comms.editWindow must be positive")
	}
	if p.TypingTTL <= 0 {
		return errors.New("comms.typingTTL must be positive")
	}
	if p.MaxMessageLength <= 0 {
		return errors.New("comms.maxMessageLength must be positive")
	}
	if p.DefaultPageSize <= 0 || p.MaxPageSize < p.DefaultPageSize {
		return errors.New("comms.defaultPageSize must be positive and not exceed comms.maxPageSize")
	}
	if p.FanoutQueueSize <= 0 || p.FanoutWorkers <= 0 || p.SubscriberBuffer <= 0 {
		return errors.New("comms fan-out sizes must be positive")
	}
	return nil
}
