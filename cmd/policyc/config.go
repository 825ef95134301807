// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcpolicy/internal/log"
	"github.com/btcsuite/btcpolicy/internal/version"
	"github.com/btcsuite/btcpolicy/miniscript"
	"github.com/btcsuite/btcpolicy/policy"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogLevel    = "info"
	defaultLogFilename = "policyc.log"
	defaultContext     = "wsh"
	defaultCacheDBName = "policies"
	defaultDbType      = "leveldb"
)

var (
	defaultHomeDir  = btcutil.AppDataDir("policyc", false)
	defaultCacheDir = filepath.Join(defaultHomeDir, "cache")
	activeNetParams = &chaincfg.MainNetParams
)

// config defines the configuration options for policyc.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Policy         string   `short:"p" long:"policy" description:"Spending policy to compile, e.g. or(pk(A),and(pk(B),older(144)))"`
	Descriptor     string   `short:"D" long:"descriptor" description:"Descriptor to decode instead of compiling a policy"`
	Keys           []string `short:"k" long:"key" description:"Public key of a policy key identifier as ID=HEX; may be repeated"`
	Context        string   `short:"c" long:"context" description:"Script context to compile for {wsh, sh}"`
	MaxDepth       int      `long:"maxdepth" description:"Maximum nesting depth of the policy"`
	NoCSV          bool     `long:"nocsv" description:"Compile for script flags without OP_CHECKSEQUENCEVERIFY"`
	NoCLTV         bool     `long:"nocltv" description:"Compile for script flags without OP_CHECKLOCKTIMEVERIFY"`
	CacheDir       string   `long:"cachedir" description:"Directory of the persistent compile cache"`
	DbType         string   `long:"dbtype" description:"Database backend of the compile cache {leveldb, pebble}"`
	NoCache        bool     `long:"nocache" description:"Do not use the persistent compile cache"`
	ShowTree       bool     `long:"tree" description:"Print the miniscript tree"`
	LogDir         string   `long:"logdir" description:"Directory to also write logs to"`
	DebugLevel     string   `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	RegressionTest bool     `long:"regtest" description:"Use the regression test network"`
	SimNet         bool     `long:"simnet" description:"Use the simulation test network"`
	TestNet3       bool     `long:"testnet" description:"Use the test network"`
	SigNet         bool     `long:"signet" description:"Use the signet test network"`
	ShowVersion    bool     `short:"V" long:"version" description:"Display version information and exit"`

	ctx  miniscript.Context
	keys policy.StaticKeyProvider
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		log.SetLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := log.SubsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, log.SupportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		log.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// parseKeys parses ID=HEX key assignments into a key provider.
func parseKeys(assignments []string) (policy.StaticKeyProvider, error) {
	keys := make(policy.StaticKeyProvider, len(assignments))
	for _, assignment := range assignments {
		fields := strings.SplitN(assignment, "=", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("the key [%v] is not of the form "+
				"ID=HEX", assignment)
		}
		raw, err := hex.DecodeString(fields[1])
		if err != nil {
			return nil, fmt.Errorf("the key of %v is not hex: %w",
				fields[0], err)
		}
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("the key of %v is invalid: %w",
				fields[0], err)
		}
		keys[fields[0]] = pub
	}
	return keys, nil
}

// loadConfig initializes and parses the config using command line options.
func loadConfig(args []string) (*config, error) {
	// Default config.
	cfg := config{
		Context:    defaultContext,
		MaxDepth:   policy.DefaultMaxDepth,
		CacheDir:   defaultCacheDir,
		DbType:     defaultDbType,
		DebugLevel: defaultLogLevel,
	}

	// Parse command line options.
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	if cfg.ShowVersion {
		fmt.Println("policyc version", version.String())
		os.Exit(0)
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", log.SupportedSubsystems())
		os.Exit(0)
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet3 {
		numNets++
		activeNetParams = &chaincfg.TestNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		activeNetParams = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		activeNetParams = &chaincfg.SimNetParams
	}
	if cfg.SigNet {
		numNets++
		activeNetParams = &chaincfg.SigNetParams
	}
	if numNets > 1 {
		str := "%s: The testnet, regtest, simnet and signet params " +
			"can't be used together -- choose one of the four"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, err
	}

	// Exactly one of a policy and a descriptor.
	if (cfg.Policy == "") == (cfg.Descriptor == "") {
		str := "%s: Specify either a policy or a descriptor"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, err
	}

	switch cfg.Context {
	case "wsh":
		cfg.ctx = miniscript.ContextP2WSH
	case "sh":
		cfg.ctx = miniscript.ContextP2SH
	default:
		str := "%s: The specified context [%v] is invalid -- " +
			"supported contexts wsh, sh"
		err := fmt.Errorf(str, funcName, cfg.Context)
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}

	if cfg.DbType != "leveldb" && cfg.DbType != "pebble" {
		str := "%s: The specified database type [%v] is invalid -- " +
			"supported types leveldb, pebble"
		err := fmt.Errorf(str, funcName, cfg.DbType)
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}

	keys, err := parseKeys(cfg.Keys)
	if err != nil {
		err := fmt.Errorf("%s: %w", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}
	cfg.keys = keys

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	if cfg.LogDir != "" {
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		if err := log.InitLogRotator(logFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, err
		}
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %w", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, err
	}

	return &cfg, nil
}
