// Command foldergate manages a file-driven control-plane vault: folders are
// states, moves are transitions, and the audit trail is a hash-chained JSONL
// log under logs/.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"foldergate/internal/audit"
	"foldergate/internal/lock"
	"foldergate/internal/machine"
	"foldergate/internal/model"
	"foldergate/internal/vault"
)

var rootCmd = &cobra.Command{
	Use:           "foldergate",
	Short:         "File-driven task control plane with human approval gating",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("vault", ".", "vault root directory")
	pf.Bool("json", false, "machine-parseable JSON output")
	pf.String("log-level", "", "operational log level (quiet, info, debug)")

	viper.SetEnvPrefix("FOLDERGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("vault", pf.Lookup("vault"))
	_ = viper.BindPFlag("json", pf.Lookup("json"))
	_ = viper.BindPFlag("log-level", pf.Lookup("log-level"))
}

func vaultRoot() string {
	return viper.GetString("vault")
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

// session bundles everything a vault-touching command needs, plus the
// exclusive writer lock for mutating commands.
type session struct {
	root      string
	cfg       model.Config
	auditor   *audit.Logger
	machine   *machine.Machine
	locks     *lock.MutexMap
	logger    *log.Logger
	vaultLock *lock.VaultLock
}

func openSession(mutating bool) (*session, error) {
	root := vaultRoot()
	if err := vault.Check(root); err != nil {
		return nil, fmt.Errorf("not a vault (run 'foldergate init' first): %w", err)
	}
	cfg, err := vault.LoadConfig(root)
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	var vl *lock.VaultLock
	if mutating {
		vl = lock.NewVaultLock(vault.LockPath(root))
		if err := vl.TryLock(); err != nil {
			return nil, err
		}
	}

	auditor, err := audit.New(vault.LogsDir(root))
	if err != nil {
		if vl != nil {
			_ = vl.Unlock()
		}
		return nil, err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	locks := lock.NewMutexMap()
	return &session{
		root:      root,
		cfg:       cfg,
		auditor:   auditor,
		machine:   machine.New(root, cfg, auditor, locks, logger),
		locks:     locks,
		logger:    logger,
		vaultLock: vl,
	}, nil
}

func (s *session) close() {
	_ = s.auditor.Close()
	if s.vaultLock != nil {
		_ = s.vaultLock.Unlock()
	}
}

// parseState accepts either the state name or its folder name.
func parseState(arg string) (model.State, error) {
	if s, ok := model.StateFromFolder(arg); ok {
		return s, nil
	}
	s := model.State(strings.ToLower(strings.ReplaceAll(arg, "-", "_")))
	if model.ValidState(s) {
		return s, nil
	}
	return "", fmt.Errorf("unknown state %q", arg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
