package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/bitfsorg/libblocks-go/block"
	"github.com/bitfsorg/libblocks-go/config"
	"github.com/bitfsorg/libblocks-go/resolve"
	"github.com/bitfsorg/libblocks-go/vault"
)

// errAbsent makes a command exit 1 without printing anything.
var errAbsent = errors.New("absent")

func (a *app) cmdInit(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: init takes no arguments", errUsage)
	}
	v, err := a.unlockedVault()
	if err != nil {
		return err
	}
	defer v.Close()
	fmt.Fprintf(a.stdout, "store ready at %s\n", v.DataDir())
	return nil
}

func (a *app) cmdPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	tierName := fs.String("tier", block.P3.String(), "retention tier p1..p4")
	mimeType := fs.String("mime", "", "MIME type stored with the block")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: put [-tier p3] <file>", errUsage)
	}
	tier, err := block.ParseTier(*tierName)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	path := fs.Arg(0)
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(a.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	v, err := a.unlockedVault()
	if err != nil {
		return err
	}
	defer v.Close()

	meta := block.Meta{MimeType: *mimeType}
	if path != "-" {
		meta.Filename = filepath.Base(path)
	}
	h, err := v.PutBlock(context.Background(), data, tier, meta)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, h)
	return nil
}

func parseHashArg(cmd string, args []string) (block.Hash, error) {
	if len(args) != 1 {
		return block.Hash{}, fmt.Errorf("%w: %s <hash>", errUsage, cmd)
	}
	h, err := block.ParseHash(args[0])
	if err != nil {
		return block.Hash{}, fmt.Errorf("%w: %w", errUsage, err)
	}
	return h, nil
}

func (a *app) cmdGet(args []string) error {
	h, err := parseHashArg("get", args)
	if err != nil {
		return err
	}
	v, err := a.unlockedVault()
	if err != nil {
		return err
	}
	defer v.Close()

	data, err := v.GetLocalBlock(context.Background(), h)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%s: not stored locally", h)
	}
	_, err = a.stdout.Write(data)
	return err
}

func (a *app) cmdResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	tierName := fs.String("tier", block.DefaultFetchTier.String(), "tier for a block fetched from the network")
	scope := fs.String("scope", "", "peer discovery domain (default: directory_domain)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	h, err := parseHashArg("resolve", fs.Args())
	if err != nil {
		return err
	}
	tier, err := block.ParseTier(*tierName)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	v, err := a.unlockedVault()
	if err != nil {
		return err
	}
	defer v.Close()

	data, err := v.ResolveBlockWith(context.Background(), h, resolve.ResolveOptions{Tier: tier, Scope: *scope})
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%s: unavailable", h)
	}
	_, err = a.stdout.Write(data)
	return err
}

func (a *app) cmdHas(args []string) error {
	h, err := parseHashArg("has", args)
	if err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	defer v.Close()

	ok, err := v.HasBlock(h)
	if err != nil {
		return err
	}
	if !ok {
		return errAbsent
	}
	return nil
}

func (a *app) cmdRemove(args []string) error {
	h, err := parseHashArg("rm", args)
	if err != nil {
		return err
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	defer v.Close()
	return v.DeleteBlock(context.Background(), h)
}

type usageReport struct {
	TotalBytes  int64                `json:"total_bytes"`
	TotalBlocks int64                `json:"total_blocks"`
	BudgetBytes int64                `json:"budget_bytes"`
	Tiers       map[string]tierUsage `json:"tiers"`
}

type tierUsage struct {
	Bytes  int64 `json:"bytes"`
	Blocks int64 `json:"blocks"`
}

func (a *app) cmdUsage(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: usage takes no arguments", errUsage)
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	defer v.Close()

	u, err := v.StorageUsage()
	if err != nil {
		return err
	}
	out := usageReport{
		TotalBytes:  u.TotalBytes,
		TotalBlocks: u.TotalBlocks,
		BudgetBytes: v.Config().BudgetBytes,
		Tiers:       make(map[string]tierUsage, len(u.ByTier)),
	}
	for t, tu := range u.ByTier {
		out.Tiers[t.String()] = tierUsage{Bytes: tu.Bytes, Blocks: tu.Blocks}
	}
	return writeJSON(a.stdout, out)
}

func (a *app) cmdSweep(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: sweep takes no arguments", errUsage)
	}
	v, err := a.openVault()
	if err != nil {
		return err
	}
	defer v.Close()

	r, err := v.SweepNow(context.Background())
	if err != nil {
		return err
	}
	return writeJSON(a.stdout, r)
}

func (a *app) cmdConfig(args []string) error {
	v, err := a.openVault()
	if err != nil {
		return err
	}
	defer v.Close()

	if len(args) > 0 {
		update, err := config.ParseAssignments(args)
		if err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
		if err := v.SetConfig(update); err != nil {
			return err
		}
	}
	return printConfig(a.stdout, v.Config())
}

func printConfig(w io.Writer, cfg config.StoreConfig) error {
	fields := map[string]string{
		"budget_bytes":        fmt.Sprint(cfg.BudgetBytes),
		"warm_ttl_days":       fmt.Sprint(cfg.WarmTTLDays),
		"memory_budget_bytes": fmt.Sprint(cfg.MemoryBudgetBytes),
		"sweep_interval":      cfg.SweepInterval.String(),
		"peer_timeout":        cfg.PeerTimeout.String(),
		"discovery_timeout":   cfg.DiscoveryTimeout.String(),
		"server_timeout":      cfg.ServerTimeout.String(),
		"server_base_url":     cfg.ServerBaseURL,
		"directory_domain":    cfg.DirectoryDomain,
		"listen_addr":         cfg.ListenAddr,
		"cipher":              cfg.Cipher,
		"log_level":           cfg.LogLevel,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s = %s\n", k, fields[k]); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	listen := fs.String("listen", "", "listen address (default: listen_addr)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	v, err := a.unlockedVaultWatching()
	if err != nil {
		return err
	}
	defer v.Close()

	addr := *listen
	if addr == "" {
		addr = v.Config().ListenAddr
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, v, addr, a.env[EnvServeToken])
}

// unlockedVaultWatching is unlockedVault with config reload enabled, for
// long-running commands.
func (a *app) unlockedVaultWatching() (*vault.Vault, error) {
	a.watch = true
	return a.unlockedVault()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
