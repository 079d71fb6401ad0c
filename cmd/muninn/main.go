// Package main provides the Muninn CLI entry point.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/memory"
	"github.com/orneryd/muninn/pkg/pattern"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "muninn",
		Short: "Muninn - Associative Memory Substrate",
		Long: `Muninn is an associative memory substrate for pattern-recognition
engines. It learns weighted, typed, directed associations between
patterns from temporal co-occurrence and usage feedback, and manages
their lifecycle: promotion, demotion, merging, decay, and forgetting.

Features:
  • Typed association graph with spreading activation
  • Chi-squared gated association formation
  • Hebbian reinforcement, competition, and normalization
  • Four-tier memory lifecycle with adaptive thresholds
  • Sleep-triggered consolidation
  • Checksummed binary snapshots`,
	}

	rootCmd.PersistentFlags().String("config", "muninn.yaml", "Config file (falls back to MUNINN_* env vars)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Muninn v%s (%s)\n", version, commit)
		},
	})

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a learning scenario end to end",
		Long: `Feed a repeating activation sequence through the substrate, form
associations, reinforce the first link, and print what the graph
learned and predicts.`,
		RunE: runSimulate,
	}
	simulateCmd.Flags().Int("rounds", 10, "How many times to replay the sequence")
	simulateCmd.Flags().Int("patterns", 4, "Sequence length (patterns 1..N)")
	rootCmd.AddCommand(simulateCmd)

	statsCmd := &cobra.Command{
		Use:   "stats [snapshot]",
		Short: "Print statistics for a saved association snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStats,
	}
	rootCmd.AddCommand(statsCmd)

	maintainCmd := &cobra.Command{
		Use:   "maintain [snapshot]",
		Short: "Run maintenance cycles over a saved snapshot",
		Long: `Load a snapshot, run maintenance on the configured interval until
interrupted, and save the result back.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runMaintain,
	}
	maintainCmd.Flags().Int("cycles", 0, "Stop after this many cycles (0 = until interrupted)")
	rootCmd.AddCommand(maintainCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup holds everything a command needs after configuration loading.
type setup struct {
	cfg    *config.Config
	mgr    *memory.Manager
	db     pattern.Database
	logger *zap.Logger
}

// loadSetup builds the configured manager, store, and logger.
func loadSetup(cmd *cobra.Command) (*setup, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFileOrEnv(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	var db pattern.Database
	if cfg.DataDir != "" {
		db, err = pattern.NewBadgerDatabase(pattern.BadgerOptions{DataDir: cfg.DataDir})
		if err != nil {
			return nil, fmt.Errorf("opening pattern store: %w", err)
		}
	} else {
		db = pattern.NewMemoryDatabase()
	}

	mc, err := cfg.MemoryConfig()
	if err != nil {
		return nil, err
	}
	mgr, err := memory.NewManager(mc, memory.Options{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.TierLoopEnabled {
		if err := mgr.StartTierLoop(); err != nil {
			return nil, err
		}
	}
	return &setup{cfg: cfg, mgr: mgr, db: db, logger: logger}, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	switch level {
	case "debug":
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zc.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zc.Build()
}

func runSimulate(cmd *cobra.Command, args []string) error {
	s, err := loadSetup(cmd)
	if err != nil {
		return err
	}
	defer s.mgr.Close()
	defer s.logger.Sync()

	rounds, _ := cmd.Flags().GetInt("rounds")
	n, _ := cmd.Flags().GetInt("patterns")
	if rounds < 1 || n < 2 {
		return fmt.Errorf("need rounds >= 1 and patterns >= 2")
	}

	ids := make([]pattern.PatternID, n)
	for i := range ids {
		ids[i] = pattern.PatternID(i + 1)
		p := &pattern.Pattern{
			ID:         ids[i],
			Features:   pattern.FeatureVector{float32(i + 1), 1, 0},
			Confidence: 0.8,
		}
		if err := s.db.Store(p); err != nil {
			return fmt.Errorf("seeding pattern %d: %w", ids[i], err)
		}
	}

	// Replay the sequence with small gaps so consecutive patterns
	// co-occur and earlier ones fall out of the window.
	for r := 0; r < rounds; r++ {
		for _, id := range ids {
			s.mgr.RecordPatternActivation(id)
			time.Sleep(50 * time.Millisecond)
		}
		time.Sleep(500 * time.Millisecond)
	}

	formed := s.mgr.FormNewAssociations()
	fmt.Printf("formed %d associations after %d rounds\n", formed, rounds)

	for i := 0; i+1 < len(ids); i++ {
		if snap, ok := s.mgr.Matrix().GetAssociation(ids[i], ids[i+1]); ok {
			fmt.Printf("  %d → %d  type=%s strength=%.3f\n",
				snap.Source, snap.Target, snap.Type, snap.Strength)
		}
	}

	// Reinforce the first link and see it dominate predictions.
	for i := 0; i < 5; i++ {
		s.mgr.Reinforce(ids[0], ids[1], true)
	}
	fmt.Printf("predictions from %d: %v\n", ids[0], s.mgr.Predict(ids[0], 3))

	stats := s.mgr.PerformMaintenance()
	fmt.Printf("maintenance: decayed=%d normalized=%d pruned=%d threshold=%.3f\n",
		stats.Learning.Decayed, stats.Learning.Normalized, stats.Learning.Pruned, stats.Threshold)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	st, err := loadSetup(cmd)
	if err != nil {
		return err
	}
	defer st.mgr.Close()
	defer st.logger.Sync()

	path := st.cfg.SnapshotPath
	if len(args) == 1 {
		path = args[0]
	}
	if err := st.mgr.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}

	s := st.mgr.Matrix().GetStats()
	fmt.Printf("edges:           %d\n", s.EdgeCount)
	fmt.Printf("tombstones:      %d\n", s.Tombstones)
	fmt.Printf("patterns linked: %d\n", s.PatternsLinked)
	fmt.Printf("avg strength:    %.4f\n", s.AvgStrength)
	for typ, count := range s.CountByType {
		fmt.Printf("  %-14s %d\n", typ+":", count)
	}
	return nil
}

func runMaintain(cmd *cobra.Command, args []string) error {
	st, err := loadSetup(cmd)
	if err != nil {
		return err
	}
	defer st.mgr.Close()
	defer st.logger.Sync()

	path := st.cfg.SnapshotPath
	if len(args) == 1 {
		path = args[0]
	}
	if err := st.mgr.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}

	maxCycles, _ := cmd.Flags().GetInt("cycles")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(st.cfg.MaintenanceInterval)
	defer ticker.Stop()

	cycles := 0
	for {
		select {
		case <-sigCh:
			st.logger.Info("interrupted, saving snapshot")
			return st.mgr.Save(path)
		case <-ticker.C:
			stats := st.mgr.PerformMaintenance()
			cycles++
			fmt.Printf("cycle %d: pruned=%d transitions=%d compacted=%v (%s)\n",
				cycles, stats.Patterns.Pruned, stats.Transitions, stats.Compacted, stats.Duration)
			if maxCycles > 0 && cycles >= maxCycles {
				return st.mgr.Save(path)
			}
		}
	}
}
