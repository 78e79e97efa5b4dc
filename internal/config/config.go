package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RoanBrand/psmq/internal/model"
	"github.com/RoanBrand/psmq/transport"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Broker configures the control channel that clients send requests to.
	Broker struct {
		// Name of the control channel. Default "/psmqd".
		Name string `json:"name" yaml:"name"`
		// Max number of requests queued on the control channel. Default 10.
		MaxMsg int `json:"max_msg" yaml:"max_msg"`
		// Remove a control channel left behind by a previous run before creating it.
		RemoveQueue bool `json:"remove_queue" yaml:"remove_queue"`
		// Number of client slots, 2 to 254. Default 16.
		MaxClients int `json:"max_clients" yaml:"max_clients"`
		// How long one wait on the control channel may block, in ms. Default 5000.
		PollMS int `json:"poll_ms" yaml:"poll_ms"`
	} `json:"broker" yaml:"broker"`

	Clients struct {
		// Time allowed for a reply to be queued on a client channel, in ms.
		// Default 50. Clients can change their own value with IOCTL.
		ReplyTimeoutMS uint16 `json:"reply_timeout_ms" yaml:"reply_timeout_ms"`
		// Consecutive failed deliveries after which a subscriber is dropped. Default 10.
		MaxMissed uint8 `json:"max_missed" yaml:"max_missed"`
	} `json:"clients" yaml:"clients"`

	// Log configures optional log output file as well as the log level setting.
	Log struct {
		File   string `json:"file" yaml:"file"`
		Level  string `json:"level" yaml:"level"`
		Colors bool   `json:"colors" yaml:"colors"`
	} `json:"log" yaml:"log"`

	// Stats optionally keeps broker counters in a directory. Disabled if Dir is empty.
	Stats struct {
		Dir            string `json:"dir" yaml:"dir"`
		FlushIntervalS int    `json:"flush_interval_s" yaml:"flush_interval_s"`
	} `json:"stats" yaml:"stats"`

	// WS Address optionally specifies an address for a Websocket gateway to listen on,
	// in the form "host:port". If empty, the gateway is not started.
	WS struct {
		Address     string `json:"address" yaml:"address"`
		CheckOrigin bool   `json:"check_origin" yaml:"check_origin"`
	} `json:"ws" yaml:"ws"`
}

// New returns the config at fPath, or the defaults if fPath is empty.
func New(fPath string) (*Config, error) {
	c := Config{}
	if fPath == "" {
		return &c, c.Validate()
	}
	if err := c.LoadFromFile(fPath); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFromFile reads a JSON or, by extension, YAML config file.
func (c *Config) LoadFromFile(fPath string) error {
	f, err := os.Open(fPath)
	if err != nil {
		return errors.New("error opening config file: " + err.Error())
	}

	defer f.Close()

	switch strings.ToLower(filepath.Ext(fPath)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(c)
	default:
		err = json.NewDecoder(f).Decode(c)
	}
	if err != nil {
		return errors.New("error reading config file: " + err.Error())
	}

	return c.Validate()
}

// Validate fills in defaults and checks the settings.
func (c *Config) Validate() error {
	if c.Broker.Name == "" {
		c.Broker.Name = "/psmqd"
	}
	if !transport.ValidName(c.Broker.Name) {
		return errors.New("invalid broker name " + strconv.Quote(c.Broker.Name) + ": must be '/' followed by at least one character other than '/'")
	}

	if c.Broker.MaxMsg == 0 {
		c.Broker.MaxMsg = 10
	} else if c.Broker.MaxMsg < 0 {
		return errors.New("invalid broker max_msg: " + strconv.Itoa(c.Broker.MaxMsg))
	}

	if c.Broker.MaxClients == 0 {
		c.Broker.MaxClients = 16
	} else if c.Broker.MaxClients < model.MinClients || c.Broker.MaxClients > model.MaxClients {
		return errors.New("invalid broker max_clients: " + strconv.Itoa(c.Broker.MaxClients) +
			", must be between " + strconv.Itoa(model.MinClients) + " and " + strconv.Itoa(model.MaxClients))
	}

	if c.Broker.PollMS <= 0 {
		c.Broker.PollMS = 5000
	}

	if c.Clients.ReplyTimeoutMS == 0 {
		c.Clients.ReplyTimeoutMS = 50
	}
	if c.Clients.MaxMissed == 0 {
		c.Clients.MaxMissed = 10
	}

	if c.Stats.Dir != "" && c.Stats.FlushIntervalS <= 0 {
		c.Stats.FlushIntervalS = 10
	}

	if c.WS.Address != "" {
		if !strings.Contains(c.WS.Address, ":") {
			c.WS.Address += ":8080" // if just ip/host specified
		}
	}

	return nil
}
