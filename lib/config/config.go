// Package config provides helper functionality to read the monitor configuration from JSON or YAML config files and
// OS ENV variables. The default configuration can be overriden first by:
//
// - a valid config file (see cmd/conf.json for a sample; files ending in .yaml or .yml are read as YAML) and then by
//
// - OS ENV variables: prefixed with TOKMON_ (ie. TOKMON_PORT, TOKMON_INTERVAL, ...). All OS ENV variables should be
// valid strings, except for TOKMON_CHAINS which should be a string with a valid JSON format. For example:
// # export TOKMON_CHAINS='[{"name":"eth","node":"https://mainnet.infura.io/v3/key","wallets":["0x..."],"tokens":[{"address":"0x...","fixed":1}]}]'
//
// - and finally, per chain, TOKMON_<NAME>_RPC_URL replaces the node url and TOKMON_<NAME>_WALLETS (comma separated)
// replaces the wallet list of the chain with that name.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/tarancss/tokenmon/lib/util"
)

// Default configuration variables
//
//nolint:gochecknoglobals // defaults can be overriden by the file and the environment
var (
	EndpointDefault      = ""
	PortDefault          = "3000"
	IntervalDefault      = 60 // seconds between refresh cycles
	TimeoutDefault       = 15 // seconds allowed for a single chain call
	ConcurrencyDefault   = 4  // concurrent calls per node
	NameEveryDefault     = 0  // names are fetched until known
	DecimalsEveryDefault = 1  // decimals are fetched every cycle
	DBTypeDefault        = ""
	DBConnDefault        = ""
	MbTypeDefault        = ""
	MbConnDefault        = ""
	ChainsDefault        = []ChainConfig{}
)

// MaxDecimals is the largest number of decimals accepted for a token (10^77 is the largest power of ten that fits
// in a uint256).
const MaxDecimals = 77

// Index returns a pointer to i, for the reserve roles of UniswapV2.
func Index(i int) *int {
	return &i
}

// ErrConfig is wrapped by every error returned by Validate.
var ErrConfig = errors.New("config error")

// UniswapV2 prices a token from the reserves of a two-asset pool. The reserve roles must be given explicitly as the
// storage order of the pool follows the address sort order of its tokens, not which one is priced.
type UniswapV2 struct {
	Pool          string `json:"pool" yaml:"pool"`
	BaseReserve   *int   `json:"baseReserve" yaml:"baseReserve"`   // index (0/1) of the priced token reserve
	QuoteReserve  *int   `json:"quoteReserve" yaml:"quoteReserve"` // index (0/1) of the USD-like token reserve
	BaseDecimals  uint8  `json:"baseDecimals" yaml:"baseDecimals"`
	QuoteDecimals uint8  `json:"quoteDecimals" yaml:"quoteDecimals"`
}

// UniswapV3 prices a token by quoting a one-unit swap into a USD-like counter token.
type UniswapV3 struct {
	Quoter          string `json:"quoter" yaml:"quoter"`
	CounterToken    string `json:"counterToken" yaml:"counterToken"`
	Fee             uint32 `json:"fee" yaml:"fee"`
	CounterDecimals *uint8 `json:"counterDecimals,omitempty" yaml:"counterDecimals,omitempty"` // 6 if not set
}

// TokenConfig is an ERC20 token and at most one pricing strategy. A token without strategy has an unknown price.
type TokenConfig struct {
	Address   string     `json:"address" yaml:"address"`
	Fixed     *float64   `json:"fixed,omitempty" yaml:"fixed,omitempty"`
	UniswapV2 *UniswapV2 `json:"uniswapV2,omitempty" yaml:"uniswapV2,omitempty"`
	UniswapV3 *UniswapV3 `json:"uniswapV3,omitempty" yaml:"uniswapV3,omitempty"`
}

// ChainConfig defines the required fields for a blockchain/network. Node contains the url (ie. https://localhost:8545)
// and Secret is an optional field when Basic Authentication is required by the node. MaxConcurrency overrides the
// service concurrency for this chain's node.
type ChainConfig struct {
	Name           string        `json:"name" yaml:"name"`
	Node           string        `json:"node" yaml:"node"`
	Secret         string        `json:"secret" yaml:"secret"`
	MaxConcurrency int           `json:"maxConcurrency" yaml:"maxConcurrency"`
	Wallets        []string      `json:"wallets" yaml:"wallets"`
	Tokens         []TokenConfig `json:"tokens" yaml:"tokens"`
}

// ServiceConfig contains the required fields for the monitor: HTTP endpoint and port, refresh interval and call
// timeout in seconds, concurrent calls per node, metadata refresh cadence in cycles, optional archive database and
// message broker, and the chains to monitor.
type ServiceConfig struct {
	Endpoint      string        `json:"endpoint" yaml:"endpoint"`
	Port          string        `json:"port" yaml:"port"`
	Interval      int           `json:"interval" yaml:"interval"`
	Timeout       int           `json:"timeout" yaml:"timeout"`
	Concurrency   int           `json:"concurrency" yaml:"concurrency"`
	NameEvery     int           `json:"nameEvery" yaml:"nameEvery"`
	DecimalsEvery int           `json:"decimalsEvery" yaml:"decimalsEvery"`
	DBType        string        `json:"dbtype" yaml:"dbtype"`
	DBConn        string        `json:"dbconn" yaml:"dbconn"`
	MbType        string        `json:"mbtype" yaml:"mbtype"`
	MbConn        string        `json:"mbconn" yaml:"mbconn"`
	Chains        []ChainConfig `json:"chains" yaml:"chains"`
}

// ExtractConfiguration reads from the given JSON or YAML filename, applies the OS ENV overrides and returns the
// validated ServiceConfig or an error otherwise.
func ExtractConfiguration(filename string) (ServiceConfig, error) {
	conf := ServiceConfig{
		Endpoint:      EndpointDefault,
		Port:          PortDefault,
		Interval:      IntervalDefault,
		Timeout:       TimeoutDefault,
		Concurrency:   ConcurrencyDefault,
		NameEvery:     NameEveryDefault,
		DecimalsEvery: DecimalsEveryDefault,
		DBType:        DBTypeDefault,
		DBConn:        DBConnDefault,
		MbType:        MbTypeDefault,
		MbConn:        MbConnDefault,
		Chains:        ChainsDefault,
	}
	// read from config file first
	if filename != "" {
		if err := readFile(filename, &conf); err != nil {
			return conf, err
		}
	}
	// then override config values with OS ENV variables
	if err := readEnv(&conf); err != nil {
		return conf, err
	}

	return conf, Validate(conf)
}

func readFile(filename string, conf *ServiceConfig) error {
	file, err := os.Open(filename)
	if err != nil {
		log.Println("Configuration file not found.")

		return fmt.Errorf("config: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(file).Decode(conf)
	default:
		err = json.NewDecoder(file).Decode(conf)
	}

	if err != nil {
		return fmt.Errorf("config: cannot decode %s: %v: %w", filename, err, ErrConfig)
	}

	return nil
}

func readEnv(conf *ServiceConfig) error {
	var tmp string

	if tmp = os.Getenv("TOKMON_ENDPOINT"); tmp != "" {
		conf.Endpoint = tmp
	}

	if tmp = os.Getenv("TOKMON_PORT"); tmp != "" {
		conf.Port = tmp
	}

	if tmp = os.Getenv("TOKMON_DBTYPE"); tmp != "" {
		conf.DBType = tmp
	}

	if tmp = os.Getenv("TOKMON_DBCONN"); tmp != "" {
		conf.DBConn = tmp
	}

	if tmp = os.Getenv("TOKMON_MBTYPE"); tmp != "" {
		conf.MbType = tmp
	}

	if tmp = os.Getenv("TOKMON_MBCONN"); tmp != "" {
		conf.MbConn = tmp
	}

	ints := []struct {
		env string
		val *int
	}{
		{"TOKMON_INTERVAL", &conf.Interval},
		{"TOKMON_TIMEOUT", &conf.Timeout},
		{"TOKMON_CONCURRENCY", &conf.Concurrency},
		{"TOKMON_NAMEEVERY", &conf.NameEvery},
		{"TOKMON_DECIMALSEVERY", &conf.DecimalsEvery},
	}
	for _, i := range ints {
		if tmp = os.Getenv(i.env); tmp != "" {
			n, err := strconv.Atoi(tmp)
			if err != nil {
				return fmt.Errorf("config: %s=%q is not a number: %w", i.env, tmp, ErrConfig)
			}

			*i.val = n
		}
	}

	if tmp = os.Getenv("TOKMON_CHAINS"); tmp != "" {
		if err := json.Unmarshal([]byte(tmp), &conf.Chains); err != nil {
			log.Println("Error reading chains from OS ENV TOKMON_CHAINS.")

			return fmt.Errorf("config: TOKMON_CHAINS: %v: %w", err, ErrConfig)
		}
	}

	for i := range conf.Chains {
		prefix := "TOKMON_" + strings.ToUpper(conf.Chains[i].Name)
		if tmp = os.Getenv(prefix + "_RPC_URL"); tmp != "" {
			conf.Chains[i].Node = tmp
		}

		if tmp = os.Getenv(prefix + "_WALLETS"); tmp != "" {
			conf.Chains[i].Wallets = util.Split(tmp)
		}
	}

	return nil
}

// Validate checks the configuration is complete and every token has at most one well formed pricing strategy.
func Validate(conf ServiceConfig) error {
	if conf.Interval <= 0 {
		return fmt.Errorf("config: interval must be positive, got %d: %w", conf.Interval, ErrConfig)
	}

	if conf.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %d: %w", conf.Timeout, ErrConfig)
	}

	if conf.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency must be positive, got %d: %w", conf.Concurrency, ErrConfig)
	}

	if conf.NameEvery < 0 || conf.DecimalsEvery < 0 {
		return fmt.Errorf("config: nameEvery and decimalsEvery cannot be negative: %w", ErrConfig)
	}

	if len(conf.Chains) == 0 {
		return fmt.Errorf("config: no chains defined: %w", ErrConfig)
	}

	names := make(map[string]bool, len(conf.Chains))

	for _, c := range conf.Chains {
		if c.Name == "" || c.Node == "" {
			return fmt.Errorf("config: chain %q needs a name and a node: %w", c.Name, ErrConfig)
		}

		if names[c.Name] {
			return fmt.Errorf("config: chain %s defined twice: %w", c.Name, ErrConfig)
		}

		names[c.Name] = true

		if c.MaxConcurrency < 0 {
			return fmt.Errorf("config: [%s] maxConcurrency cannot be negative: %w", c.Name, ErrConfig)
		}

		for _, w := range c.Wallets {
			if !common.IsHexAddress(w) {
				return fmt.Errorf("config: [%s] invalid wallet address %q: %w", c.Name, w, ErrConfig)
			}
		}

		for _, t := range c.Tokens {
			if err := validateToken(t); err != nil {
				return fmt.Errorf("config: [%s] token %s: %w", c.Name, t.Address, err)
			}
		}
	}

	return nil
}

func validateToken(t TokenConfig) error {
	if !common.IsHexAddress(t.Address) {
		return fmt.Errorf("invalid token address: %w", ErrConfig)
	}

	n := 0

	if t.Fixed != nil {
		n++

		if !(*t.Fixed >= 0) || math.IsInf(*t.Fixed, 1) {
			return fmt.Errorf("fixed rate must be a finite non negative number: %w", ErrConfig)
		}
	}

	if v2 := t.UniswapV2; v2 != nil {
		n++

		if !common.IsHexAddress(v2.Pool) {
			return fmt.Errorf("invalid uniswapV2 pool address: %w", ErrConfig)
		}

		if v2.BaseReserve == nil || v2.QuoteReserve == nil {
			return fmt.Errorf("uniswapV2 needs both baseReserve and quoteReserve: %w", ErrConfig)
		}

		if b, q := *v2.BaseReserve, *v2.QuoteReserve; b < 0 || b > 1 || q < 0 || q > 1 || b == q {
			return fmt.Errorf("uniswapV2 baseReserve and quoteReserve must be 0 and 1 in some order: %w", ErrConfig)
		}

		if v2.BaseDecimals > MaxDecimals || v2.QuoteDecimals > MaxDecimals {
			return fmt.Errorf("uniswapV2 decimals above %d: %w", MaxDecimals, ErrConfig)
		}
	}

	if v3 := t.UniswapV3; v3 != nil {
		n++

		if !common.IsHexAddress(v3.Quoter) || !common.IsHexAddress(v3.CounterToken) {
			return fmt.Errorf("invalid uniswapV3 quoter or counterToken address: %w", ErrConfig)
		}

		if v3.Fee == 0 || v3.Fee >= 1<<24 {
			return fmt.Errorf("uniswapV3 fee %d out of range: %w", v3.Fee, ErrConfig)
		}

		if v3.CounterDecimals != nil && *v3.CounterDecimals > MaxDecimals {
			return fmt.Errorf("uniswapV3 counterDecimals above %d: %w", MaxDecimals, ErrConfig)
		}
	}

	if n > 1 {
		return fmt.Errorf("more than one pricing strategy: %w", ErrConfig)
	}

	return nil
}
