// Command blockctl operates a local encrypted block store.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bitfsorg/libblocks-go/config"
	"github.com/bitfsorg/libblocks-go/network"
	"github.com/bitfsorg/libblocks-go/vault"
)

const usage = `usage: blockctl [global flags] <command> [args]

commands:
  init                     create or unlock the store
  put [-tier p3] <file>    store a file as one block, print its hash
  get <hash>               print a locally stored block
  resolve [-tier p3] <hash>
                           find a block locally, on peers or at the origin
  has <hash>               exit 0 if the block is stored locally
  rm <hash>                delete a block
  usage                    print storage usage
  sweep                    run one eviction sweep
  config [key=value ...]   print or change configuration
  serve                    answer peer and origin requests

global flags:
`

// EnvPassphrase supplies the store passphrase without a prompt.
const EnvPassphrase = "LIBBLOCKS_PASSPHRASE"

var errUsage = errors.New("usage")

// app carries what every command needs.
type app struct {
	dataDir string
	server  string
	token   string
	dnssec  string
	verbose bool
	watch   bool

	env    map[string]string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// prompt reads a passphrase when the environment has none.
	prompt func(label string) (string, error)
}

func main() {
	a := &app{
		env:    environ(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		prompt: promptPassphrase,
	}
	os.Exit(a.run(os.Args[1:]))
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// run parses global flags and dispatches. It returns the exit code.
func (a *app) run(args []string) int {
	fs := flag.NewFlagSet("blockctl", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprint(a.stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&a.dataDir, "datadir", config.DefaultDataDir(), "store data directory")
	fs.StringVar(&a.server, "server", "", "origin server base URL (overrides "+network.EnvServerURL+")")
	fs.StringVar(&a.token, "token", "", "origin access token (overrides "+network.EnvAccessToken+")")
	fs.StringVar(&a.dnssec, "dnssec", "", "validating DNS resolver host:port for peer discovery")
	fs.BoolVar(&a.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "init":
		err = a.cmdInit(rest)
	case "put":
		err = a.cmdPut(rest)
	case "get":
		err = a.cmdGet(rest)
	case "resolve":
		err = a.cmdResolve(rest)
	case "has":
		err = a.cmdHas(rest)
	case "rm":
		err = a.cmdRemove(rest)
	case "usage":
		err = a.cmdUsage(rest)
	case "sweep":
		err = a.cmdSweep(rest)
	case "config":
		err = a.cmdConfig(rest)
	case "serve":
		err = a.cmdServe(rest)
	default:
		fmt.Fprintf(a.stderr, "blockctl: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(a.stderr, "blockctl %s: %v\n", cmd, err)
		return 2
	case errors.Is(err, errAbsent):
		return 1
	default:
		fmt.Fprintf(a.stderr, "blockctl %s: %v\n", cmd, err)
		return 1
	}
}

// openVault opens the store without unlocking it.
func (a *app) openVault() (*vault.Vault, error) {
	log := logrus.New()
	log.SetOutput(a.stderr)
	if cfg, err := config.LoadConfig(config.ConfigPath(a.dataDir)); err == nil {
		log.SetLevel(cfg.Level())
	}
	if a.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	env := make(map[string]string, 2)
	for _, k := range []string{network.EnvServerURL, network.EnvAccessToken} {
		if v, ok := a.env[k]; ok {
			env[k] = v
		}
	}
	// Flags beat the environment.
	if a.server != "" {
		env[network.EnvServerURL] = a.server
	}
	if a.token != "" {
		env[network.EnvAccessToken] = a.token
	}

	return vault.Open(vault.Options{
		DataDir:        a.dataDir,
		Logger:         log,
		Env:            env,
		DNSSECUpstream: a.dnssec,
		WatchConfig:    a.watch,
	})
}

// unlockedVault opens the store and unlocks it with the passphrase.
func (a *app) unlockedVault() (*vault.Vault, error) {
	v, err := a.openVault()
	if err != nil {
		return nil, err
	}
	pass, err := a.passphrase()
	if err != nil {
		_ = v.Close()
		return nil, err
	}
	if err := v.Init(pass); err != nil {
		_ = v.Close()
		return nil, err
	}
	return v, nil
}
