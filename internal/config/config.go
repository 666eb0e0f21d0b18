package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/toolgate/toolgate/internal/hash"
)

// Server variant kinds.
const (
	ServerKindSubprocess = "subprocess"
	ServerKindRemote     = "remote"
)

// Config represents the runtime configuration of a toolgate instance.
// One instance serves exactly one profile.
type Config struct {
	DataDir string `json:"data_dir"`
	Profile string `json:"profile"`

	// Discovery tunables
	TopK            int     `json:"top_k"`
	ConfidenceFloor float64 `json:"confidence_floor"`

	// Supervisor tunables
	HandshakeTimeout  Duration `json:"handshake_timeout"`
	CallToolTimeout   Duration `json:"call_tool_timeout"`
	UnhealthyAfter    int      `json:"unhealthy_after"`    // consecutive errors -> unhealthy
	DisableAfter      int      `json:"disable_after"`      // cumulative errors -> disabled
	MaxRetryInterval  Duration `json:"max_retry_interval"` // backoff cap
	ToolResponseLimit int      `json:"tool_response_limit"`

	// Catalog tunables
	CacheMaxAge Duration `json:"cache_max_age"`

	// Scheduler tunables
	JobTimeout          Duration `json:"job_timeout"`
	JobFailureThreshold int      `json:"job_failure_threshold"`
	ExecutionMaxAge     Duration `json:"execution_max_age"`
	ExecutionsPerJob    int      `json:"executions_per_job"`

	// ModificationPolicy governs confirmation for modifying tools.
	ModificationPolicy *ModificationPolicy `json:"modification_policy,omitempty"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty"`
}

// ModificationPolicy is the predicate + threshold + fail mode governing
// whether a tool invocation requires confirmation.
type ModificationPolicy struct {
	Enabled    bool    `json:"enabled"`
	Threshold  float64 `json:"threshold"`
	FailClosed bool    `json:"fail_closed"`
	Phrase     string  `json:"phrase,omitempty"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level         string `json:"level"`
	EnableFile    bool   `json:"enable_file"`
	EnableConsole bool   `json:"enable_console"`
	Filename      string `json:"filename"`
	LogDir        string `json:"log_dir,omitempty"`
	MaxSize       int    `json:"max_size"`    // MB
	MaxBackups    int    `json:"max_backups"` // number of backup files
	MaxAge        int    `json:"max_age"`     // days
	Compress      bool   `json:"compress"`
	JSONFormat    bool   `json:"json_format"`
}

// Profile names a set of downstream server configurations served as a unit.
type Profile struct {
	Name    string                   `json:"name"`
	Servers map[string]*ServerConfig `json:"servers"`
}

// ServerConfig describes one downstream tool server. It is a tagged variant:
// subprocess servers carry {command,args,env}, remote servers carry
// {url,headers,auth_kind}. Exactly one of Command/URL is set.
type ServerConfig struct {
	Name    string            `json:"name,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	URL      string            `json:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	AuthKind string            `json:"auth_kind,omitempty"` // bearer, basic, oauth

	Enabled bool `json:"enabled"`
}

// Kind returns the variant of the server config.
func (s *ServerConfig) Kind() string {
	if s.Command != "" {
		return ServerKindSubprocess
	}
	return ServerKindRemote
}

// Hash returns the stable content hash of the config fields that affect the
// server's tool catalog.
func (s *ServerConfig) Hash() string {
	return hash.ServerConfigHash(s.Command, s.Args, s.Env, s.URL, s.AuthKind)
}

// Validate checks the variant invariant.
func (s *ServerConfig) Validate() error {
	if s.Command == "" && s.URL == "" {
		return fmt.Errorf("server %q: either command or url must be set", s.Name)
	}
	if s.Command != "" && s.URL != "" {
		return fmt.Errorf("server %q: command and url are mutually exclusive", s.Name)
	}
	return nil
}

// ServerHashes returns the per-server config hashes of the profile.
func (p *Profile) ServerHashes() map[string]string {
	hashes := make(map[string]string, len(p.Servers))
	for name, srv := range p.Servers {
		hashes[name] = srv.Hash()
	}
	return hashes
}

// ContentHash returns the profile's stable content hash: the combined hash of
// the sorted server names and their config hashes.
func (p *Profile) ContentHash() string {
	return hash.ProfileHash(p.ServerHashes())
}

// Validate validates the profile.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	for name, srv := range p.Servers {
		if srv == nil {
			return fmt.Errorf("server %q: missing config", name)
		}
		if srv.Name == "" {
			srv.Name = name
		}
		if err := srv.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ToolMetadata represents a tool observed in a server's catalog probe.
// Its external identity is the pair (ServerName, Name); ID() renders the
// stable "server:tool" form.
type ToolMetadata struct {
	ServerName  string    `json:"server_name"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ParamsJSON  string    `json:"params_json"`
	OutputJSON  string    `json:"output_json,omitempty"`
	Hash        string    `json:"hash"`
	Updated     time.Time `json:"updated"`
}

// ID returns the stable external tool id "server:tool".
func (t *ToolMetadata) ID() string {
	return t.ServerName + ":" + t.Name
}

// SearchResult pairs a tool with a discovery confidence in [0,1].
type SearchResult struct {
	Tool       *ToolMetadata `json:"tool"`
	Confidence float64       `json:"confidence"`
}

// Duration is a time.Duration that marshals as a string ("8s", "5m").
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler. Accepts either a duration
// string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration value: %s", string(data))
	}
	*d = Duration(time.Duration(n))
	return nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:           "", // set to ~/.toolgate by the loader
		Profile:           "default",
		TopK:              5,
		ConfidenceFloor:   0.3,
		HandshakeTimeout:  Duration(8 * time.Second),
		CallToolTimeout:   Duration(2 * time.Minute),
		UnhealthyAfter:    3,
		DisableAfter:      5,
		MaxRetryInterval:  Duration(30 * time.Minute),
		ToolResponseLimit: 20000,
		CacheMaxAge:       Duration(7 * 24 * time.Hour),

		JobTimeout:          Duration(5 * time.Minute),
		JobFailureThreshold: 3,
		ExecutionMaxAge:     Duration(14 * 24 * time.Hour),
		ExecutionsPerJob:    100,

		ModificationPolicy: &ModificationPolicy{
			Enabled:    true,
			Threshold:  0.60,
			FailClosed: false,
			Phrase:     defaultModificationPhrase,
		},

		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
			JSONFormat:    false,
		},
	}
}

const defaultModificationPhrase = "modifies or deletes or writes or sends data"

// Validate validates the configuration and fills defaults for zero values.
func (c *Config) Validate() error {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = 0.3
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = Duration(8 * time.Second)
	}
	if c.CallToolTimeout <= 0 {
		c.CallToolTimeout = Duration(2 * time.Minute)
	}
	if c.UnhealthyAfter <= 0 {
		c.UnhealthyAfter = 3
	}
	if c.DisableAfter <= 0 {
		c.DisableAfter = 5
	}
	if c.MaxRetryInterval <= 0 {
		c.MaxRetryInterval = Duration(30 * time.Minute)
	}
	if c.ToolResponseLimit < 0 {
		c.ToolResponseLimit = 0 // 0 means disabled
	}
	if c.CacheMaxAge <= 0 {
		c.CacheMaxAge = Duration(7 * 24 * time.Hour)
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = Duration(5 * time.Minute)
	}
	if c.JobFailureThreshold <= 0 {
		c.JobFailureThreshold = 3
	}
	if c.ExecutionMaxAge <= 0 {
		c.ExecutionMaxAge = Duration(14 * 24 * time.Hour)
	}
	if c.ExecutionsPerJob <= 0 {
		c.ExecutionsPerJob = 100
	}
	if c.ModificationPolicy == nil {
		c.ModificationPolicy = DefaultConfig().ModificationPolicy
	}
	if c.ModificationPolicy.Threshold <= 0 {
		c.ModificationPolicy.Threshold = 0.60
	}
	if c.ModificationPolicy.Phrase == "" {
		c.ModificationPolicy.Phrase = defaultModificationPhrase
	}
	return nil
}
