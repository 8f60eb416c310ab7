package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"battlehost-go/internal/battle"
)

var checkSeed int64

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Start one battle against the engine binary and tear it down",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		battles := battle.NewManager(battle.Options{
			EnginePath:   cfg.EnginePath,
			EngineArgs:   cfg.EngineArgs,
			EngineStderr: cfg.EngineStderr,
			KillGrace:    cfg.KillGrace,
			Logger:       logger,
		})
		defer func() { _ = battles.Shutdown(context.Background()) }()

		var seed *int64
		if cmd.Flags().Changed("seed") {
			seed = &checkSeed
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		reply, err := battles.Create(ctx, seed)
		if err != nil {
			return fmt.Errorf("check %s: %w", cfg.EnginePath, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "battle %s started at turn %d\n", reply.BattleID, reply.Turn)
		battles.Terminate(reply.BattleID)
		return nil
	},
}

func init() {
	checkCmd.Flags().Int64Var(&checkSeed, "seed", 0, "seed for the check battle")
}
