package modbus

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileConfig mirrors the client settings accepted from a configuration
// file (yaml, toml, json...) or from MODBUS_-prefixed environment
// variables, e.g. MODBUS_MAX_RETRIES=3.
type FileConfig struct {
	// Mode is either "rtu" or "tcp".
	Mode string `mapstructure:"mode"`
	// Device is the serial device path (rtu mode).
	Device string `mapstructure:"device"`
	// Address is the remote endpoint as host:port (tcp mode).
	Address string `mapstructure:"address"`

	// serial line settings (rtu mode)
	Speed    uint   `mapstructure:"speed"`
	DataBits uint   `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits uint   `mapstructure:"stop_bits"`

	// engine settings
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      uint          `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	Watchdog        time.Duration `mapstructure:"watchdog"`
	MaxTransactions uint          `mapstructure:"max_transactions"`
	QueueCapacity   uint          `mapstructure:"queue_capacity"`
	SilenceTimeout  time.Duration `mapstructure:"silence_timeout"`
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
	TraceHex        bool          `mapstructure:"trace_hex"`
}

// LoadConfig reads client settings from the given configuration file,
// with environment variable overrides. With an empty path, a file named
// modbus.{yaml,toml,json,...} is searched for in the current directory
// and settings come from defaults and the environment if there is none.
func LoadConfig(path string) (fc *FileConfig, err error) {
	var v *viper.Viper

	v = viper.New()

	v.SetDefault("mode", "rtu")
	v.SetDefault("speed", 9600)
	v.SetDefault("data_bits", 8)
	v.SetDefault("parity", "none")
	v.SetDefault("stop_bits", 2)
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("retry_backoff", defaultRetryBackoff)
	v.SetDefault("watchdog", defaultWatchdog)
	v.SetDefault("max_transactions", defaultPoolLength)

	v.SetEnvPrefix("modbus")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		err = v.ReadInConfig()
		if err != nil {
			return
		}
	} else {
		v.SetConfigName("modbus")
		v.AddConfigPath(".")
		err = v.ReadInConfig()
		if err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return
			}
			// no config file around: defaults and environment only
			err = nil
		}
	}

	fc = &FileConfig{}
	err = v.Unmarshal(fc)
	if err != nil {
		fc = nil
		return
	}

	return
}

// ClientConfiguration turns the file settings into an engine
// configuration. The returned configuration has no Transport bound yet:
// pair it with OpenTransport() or any caller-provided transport.
func (fc *FileConfig) ClientConfiguration() (conf *ClientConfiguration, err error) {
	var mode TransportMode

	switch strings.ToLower(fc.Mode) {
	case "rtu":
		mode = MODE_RTU
	case "tcp":
		mode = MODE_TCP
	default:
		err = ErrConfigurationError
		return
	}

	conf = &ClientConfiguration{
		Mode:            mode,
		Speed:           fc.Speed,
		SilenceTimeout:  fc.SilenceTimeout,
		MaxTransactions: fc.MaxTransactions,
		QueueCapacity:   fc.QueueCapacity,
		Timeout:         fc.Timeout,
		MaxRetries:      fc.MaxRetries,
		RetryBackoff:    fc.RetryBackoff,
		Watchdog:        fc.Watchdog,
		DuplicateWindow: fc.DuplicateWindow,
	}

	return
}

// OpenTransport opens the transport described by the file settings:
// the serial device in rtu mode, a tcp connection in tcp mode.
func (fc *FileConfig) OpenTransport() (t Transport, err error) {
	var parity uint

	switch strings.ToLower(fc.Mode) {
	case "rtu":
		switch strings.ToLower(fc.Parity) {
		case "", "none":
			parity = PARITY_NONE
		case "even":
			parity = PARITY_EVEN
		case "odd":
			parity = PARITY_ODD
		default:
			err = ErrConfigurationError
			return
		}

		t, err = NewSerialTransport(&SerialConfiguration{
			Device:   fc.Device,
			Speed:    fc.Speed,
			DataBits: fc.DataBits,
			Parity:   parity,
			StopBits: fc.StopBits,
		})

	case "tcp":
		if fc.Address == "" {
			err = ErrConfigurationError
			return
		}
		t, err = DialSocketTransport("tcp", fc.Address, fc.Timeout)

	default:
		err = ErrConfigurationError
	}

	return
}
