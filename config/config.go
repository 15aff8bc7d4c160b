// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config defines the node's recognized options and parses them
// from the command line (the ConfigFile option is declared but no options
// file is read) the same way the teacher's daemons wire up jessevdk/go-flags: a single
// struct of tagged fields, defaults supplied by the tags themselves, and
// a parser the caller hands os.Args to.
package config

import (
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/bmnode/core/bmerr"
)

// Config holds every option the node recognizes, per the configuration
// table: listen port, outbound connection limit and TTL, advertised user
// agent, subscribed streams, and the proof-of-work difficulty knobs every
// object this node builds is ground against.
type Config struct {
	DataDir string `long:"datadir" description:"Directory to store inventory, messages, addresses, and the node registry" default:"~/.bmnode"`

	Port int `long:"port" description:"Port to listen for incoming peer connections" default:"8444"`

	ConnectionLimit int           `long:"connectionlimit" description:"Target number of outbound peer connections to maintain" default:"8"`
	ConnectionTTL   time.Duration `long:"connectionttl" description:"Idle timeout before a peer connection is dropped" default:"30m"`

	UserAgent string   `long:"useragent" description:"User agent string advertised in the version handshake" default:"/bmnode:0.1.0/"`
	Streams   []uint64 `long:"stream" description:"Stream number to subscribe to; may be repeated" default:"1"`

	NetworkNonceTrialsPerByte uint64 `long:"noncetrialsperbyte" description:"Proof-of-work difficulty scaling factor" default:"1000"`
	NetworkExtraBytes         uint64 `long:"extrabytes" description:"Proof-of-work fixed per-object overhead" default:"1000"`

	TestNet bool `long:"testnet" description:"Use the relaxed-difficulty test network parameters instead of mainnet"`

	ConfigFile string `short:"C" long:"configfile" description:"Path to a configuration file" default:"~/.bmnode/bmnode.conf"`
}

// Default returns a Config populated with every default value from its
// struct tags, without touching the command line. Callers that only need
// the built-in defaults (tests, library embedders) use this instead of
// Load.
func Default() *Config {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	// Parsing zero arguments still applies every `default:` tag, the same
	// trick the go-flags godoc documents for obtaining a populated zero
	// value without reading os.Args.
	_, _ = parser.ParseArgs(nil)
	return cfg
}

// Load parses args (typically os.Args[1:]) into a Config, returning any
// positional arguments left over. A parse failure — an unknown flag, a
// malformed value — is a FatalConfigError: the node cannot safely guess
// what the operator meant, so startup stops rather than proceeding with a
// partially applied configuration.
func Load(args []string) (*Config, []string, error) {
	const op = "config.Load"

	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil, nil, err
		}
		return nil, nil, bmerr.Wrap(bmerr.FatalConfigError, op, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}

// Validate rejects option combinations the parser itself can't catch:
// zero-value or negative numeric options that would otherwise silently
// disable the mechanism they configure.
func (c *Config) Validate() error {
	const op = "config.Config.Validate"

	switch {
	case c.Port <= 0 || c.Port > 65535:
		return bmerr.New(bmerr.FatalConfigError, op, "port must be between 1 and 65535")
	case c.ConnectionLimit <= 0:
		return bmerr.New(bmerr.FatalConfigError, op, "connectionlimit must be positive")
	case c.ConnectionTTL <= 0:
		return bmerr.New(bmerr.FatalConfigError, op, "connectionttl must be positive")
	case len(c.Streams) == 0:
		return bmerr.New(bmerr.FatalConfigError, op, "at least one stream is required")
	case c.NetworkNonceTrialsPerByte == 0:
		return bmerr.New(bmerr.FatalConfigError, op, "noncetrialsperbyte must be positive")
	case c.NetworkExtraBytes == 0:
		return bmerr.New(bmerr.FatalConfigError, op, "extrabytes must be positive")
	}
	return nil
}
