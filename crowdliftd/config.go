// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/crowdlift/crowdlift/ledger"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "crowdliftd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "crowdliftd.log"
	defaultSignersFile    = "signers.json"

	defaultMainnetPort = "4330"
	defaultTestnetPort = "4430"

	defaultMainnetLedger = "wss://xrplcluster.com"
	defaultTestnetLedger = "wss://s.altnet.rippletest.net:51233"

	defaultStablecoinSymbol = "RLUSD"
)

var (
	defaultHomeDir     = appDataDir("crowdliftd")
	defaultConfigFile  = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir     = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir      = filepath.Join(defaultHomeDir, defaultLogDirname)
	defaultSignersPath = filepath.Join(defaultHomeDir, defaultSignersFile)
)

// config defines the configuration options for crowdliftd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	HomeDir          string `short:"A" long:"appdata" description:"Path to application home directory"`
	ShowVersion      bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile       string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir          string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir           string `long:"logdir" description:"Directory to log output"`
	TestNet          bool   `long:"testnet" description:"Use the test network"`
	DebugLevel       string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Listen           string `long:"listen" description:"Interface/port to listen for connections"`
	LedgerURL        string `long:"ledgerurl" description:"Websocket URL of the ledger node"`
	LedgerOffset     uint32 `long:"ledgeroffset" description:"Ledgers added to the validated index for transaction expiry"`
	SignerHost       string `long:"signerhost" description:"host:port of the transaction signing service"`
	SignersFile      string `long:"signersfile" description:"File mapping signing roles to ledger accounts"`
	StablecoinSymbol string `long:"stablecoinsymbol" description:"Reference stablecoin symbol"`
	StablecoinIssuer string `long:"stablecoinissuer" description:"Reference stablecoin issuer account"`
	RefundAccount    string `long:"refundaccount" description:"Account receiving safety fund payouts for distribution"`
	Version          string
}

// appDataDir returns an operating system specific data directory for the
// application.
func appDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, strings.Title(appName))
		}
		return filepath.Join(home, strings.Title(appName))
	case "darwin":
		return filepath.Join(home, "Library", "Application Support",
			strings.Title(appName))
	default:
		return filepath.Join(home, "."+appName)
	}
}

// validLogLevel returns whether logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig() (*config, []string, error) {
	cfg := config{
		HomeDir:          defaultHomeDir,
		ConfigFile:       defaultConfigFile,
		DataDir:          defaultDataDir,
		LogDir:           defaultLogDir,
		DebugLevel:       defaultLogLevel,
		SignersFile:      defaultSignersPath,
		StablecoinSymbol: defaultStablecoinSymbol,
		Version:          version,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Update the home directory if specified. Since the home directory is
	// updated, other variables need to be updated to reflect the new
	// location.
	if preCfg.HomeDir != "" {
		homeDir := cleanAndExpandPath(preCfg.HomeDir)
		if homeDir != defaultHomeDir {
			cfg.HomeDir = homeDir
			cfg.ConfigFile = filepath.Join(homeDir, defaultConfigFilename)
			cfg.DataDir = filepath.Join(homeDir, defaultDataDirname)
			cfg.LogDir = filepath.Join(homeDir, defaultLogDirname)
			cfg.SignersFile = filepath.Join(homeDir, defaultSignersFile)
		}
	}
	if preCfg.ConfigFile != defaultConfigFile && preCfg.ConfigFile != "" {
		cfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(cfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n", err)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	cfg.HomeDir = cleanAndExpandPath(cfg.HomeDir)
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.SignersFile = cleanAndExpandPath(cfg.SignersFile)

	err = os.MkdirAll(cfg.HomeDir, 0700)
	if err != nil {
		return nil, nil, fmt.Errorf("create home directory: %v", err)
	}

	// Initialize log rotation. After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Network dependent defaults.
	port := defaultMainnetPort
	ledgerURL := defaultMainnetLedger
	if cfg.TestNet {
		port = defaultTestnetPort
		ledgerURL = defaultTestnetLedger
	}
	if cfg.Listen == "" {
		cfg.Listen = net.JoinHostPort("", port)
	}
	if cfg.LedgerURL == "" {
		cfg.LedgerURL = ledgerURL
	}
	if cfg.LedgerOffset == 0 {
		cfg.LedgerOffset = 20
	}
	if cfg.SignerHost == "" {
		return nil, nil, fmt.Errorf("the signerhost option is required")
	}
	if cfg.StablecoinIssuer == "" {
		return nil, nil, fmt.Errorf("the stablecoinissuer option is " +
			"required")
	}
	if !ledger.ValidAddress(cfg.StablecoinIssuer) {
		return nil, nil, fmt.Errorf("invalid stablecoinissuer %v",
			cfg.StablecoinIssuer)
	}

	return &cfg, remainingArgs, nil
}
