package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the configuration struct for the service.
type Config struct {
	// ClientID is the dhan client id.
	ClientID string
	// AccessToken is the dhan access token.
	AccessToken string
	// APIBaseURL is the order gateway base url.
	APIBaseURL string
	// StreamURL is the tick stream websocket url.
	StreamURL string
	// UnderlyingID is the security id of the underlying index.
	UnderlyingID string
	// UnderlyingSegment is the exchange segment of the underlying index.
	UnderlyingSegment string
	// OptionSegment is the exchange segment option orders are routed to.
	OptionSegment string
	// ProductType is the gateway product type for option orders.
	ProductType string
	// Expiry is the option expiry date (YYYY-MM-DD).
	Expiry string
	// Quantity is the fixed lot quantity per entry.
	Quantity int
	// CandleIntervalMinutes is the candle aggregation interval in minutes.
	CandleIntervalMinutes int
	// FastWindow is the fast moving average window.
	FastWindow int
	// SlowWindow is the slow moving average window.
	SlowWindow int
	// StrikeStep is the strike price granularity of the option chain.
	StrikeStep int
	// DepthOffset selects the deep in-the-money strike below at-the-money.
	DepthOffset int
	// StopLossPercent is the trailing stop distance from the peak price,
	// expressed as a percentage (5 means five percent).
	StopLossPercent int
	// QuotePollSeconds is the trailing-stop quote check cadence in seconds.
	QuotePollSeconds int
	// StatePath is the snapshot filepath.
	StatePath string
	// JournalEndpoint is the optional trade journal endpoint.
	JournalEndpoint string
	// JournalUser is the journal database user.
	JournalUser string
	// JournalPass is the journal database user pass.
	JournalPass string
	// Underlying names the traded underlying.
	Underlying string
	// LogFile is the optional rotated log filepath. Logs go to stderr when
	// empty.
	LogFile string

	registeredFlags map[string]bool
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.ClientID == "" {
		errs = errors.Join(errs, fmt.Errorf("dhan client id cannot be an empty string"))
	}
	if cfg.AccessToken == "" {
		errs = errors.Join(errs, fmt.Errorf("dhan access token cannot be an empty string"))
	}
	if cfg.UnderlyingID == "" {
		errs = errors.Join(errs, fmt.Errorf("underlying id cannot be an empty string"))
	}
	if cfg.Expiry == "" {
		errs = errors.Join(errs, fmt.Errorf("expiry cannot be an empty string"))
	}
	if cfg.Quantity <= 0 {
		errs = errors.Join(errs, fmt.Errorf("quantity must be positive, got %d", cfg.Quantity))
	}
	if cfg.StopLossPercent <= 0 || cfg.StopLossPercent >= 100 {
		errs = errors.Join(errs, fmt.Errorf("stop loss percent must be in (0,100), got %d",
			cfg.StopLossPercent))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(strings.ToUpper(name))
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// flagSpec describes one registered flag and the default applied when neither
// the environment nor the command line provides a value.
type flagSpec struct {
	name  string
	value interface{}
	def   string
	usage string
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	specs := []flagSpec{
		{"clientid", &cfg.ClientID, "", "the dhan client id"},
		{"accesstoken", &cfg.AccessToken, "", "the dhan access token"},
		{"apibaseurl", &cfg.APIBaseURL, "https://api.dhan.co/v2", "the order gateway base url"},
		{"streamurl", &cfg.StreamURL, "wss://api-feed.dhan.co", "the tick stream url"},
		{"underlyingid", &cfg.UnderlyingID, "13", "the underlying index security id"},
		{"underlyingsegment", &cfg.UnderlyingSegment, "IDX_I", "the underlying exchange segment"},
		{"optionsegment", &cfg.OptionSegment, "NSE_FNO", "the option exchange segment"},
		{"producttype", &cfg.ProductType, "INTRADAY", "the order product type"},
		{"expiry", &cfg.Expiry, "", "the option expiry date (YYYY-MM-DD)"},
		{"quantity", &cfg.Quantity, "50", "the fixed lot quantity per entry"},
		{"candleintervalminutes", &cfg.CandleIntervalMinutes, "5", "the candle interval in minutes"},
		{"fastwindow", &cfg.FastWindow, "10", "the fast moving average window"},
		{"slowwindow", &cfg.SlowWindow, "21", "the slow moving average window"},
		{"strikestep", &cfg.StrikeStep, "50", "the option chain strike step"},
		{"depthoffset", &cfg.DepthOffset, "200", "the deep itm strike offset"},
		{"stoplosspercent", &cfg.StopLossPercent, "5", "the trailing stop percent"},
		{"quotepollseconds", &cfg.QuotePollSeconds, "30", "the quote poll cadence in seconds"},
		{"statepath", &cfg.StatePath, "bot_state.json", "the snapshot filepath"},
		{"journalendpoint", &cfg.JournalEndpoint, "", "the optional trade journal endpoint"},
		{"journaluser", &cfg.JournalUser, "", "the journal database user"},
		{"journalpass", &cfg.JournalPass, "", "the journal database pass"},
		{"underlying", &cfg.Underlying, "NIFTY", "the traded underlying name"},
		{"logfile", &cfg.LogFile, "", "the optional rotated log filepath"},
	}

	for _, spec := range specs {
		err = cfg.registerFlag(spec.name, spec.value, spec.usage)
		if err != nil {
			return err
		}

		// Apply the default when the environment provided nothing.
		if spec.def != "" && os.Getenv(strings.ToUpper(spec.name)) == "" {
			switch v := spec.value.(type) {
			case *string:
				if *v == "" {
					*v = spec.def
				}
			case *int:
				if *v == 0 {
					def, _ := strconv.Atoi(spec.def)
					*v = def
				}
			}
		}
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}
