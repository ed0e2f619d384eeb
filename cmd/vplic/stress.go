package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/tinyrange/vplic/internal/devices/vplic"
)

type stressOptions struct {
	rounds   int
	sources  int
	progress bool
}

func runStress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	common := addCommonFlags(fs)
	rounds := fs.Int("rounds", 100000, "claim attempts per context")
	sources := fs.Int("sources", 128, "number of sources to inject (1..sources-1)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rounds <= 0 {
		return fmt.Errorf("stress: -rounds must be positive")
	}
	if *sources < 2 || *sources > vplic.NumSources {
		return fmt.Errorf("stress: -sources must be in [2, %d]", vplic.NumSources)
	}

	cfg, err := common.setup()
	if err != nil {
		return err
	}
	m, err := newMachine(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	return stress(m, stressOptions{
		rounds:   *rounds,
		sources:  *sources,
		progress: term.IsTerminal(int(os.Stdout.Fd())),
	}, out)
}

// stress runs one goroutine per context doing claim/complete through the
// chipset, one injector raising sources, and an observer checking that no
// source is ever both pending and active.
func stress(m *machine, opts stressOptions, out io.Writer) error {
	contexts := m.plic.Contexts()
	total := int64(opts.rounds * contexts)

	var bar *progressbar.ProgressBar
	if opts.progress {
		bar = progressbar.Default(total, "claim/complete")
	} else {
		bar = progressbar.DefaultSilent(total)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observed := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				observed <- nil
				return
			default:
			}
			if err := m.plic.CheckExclusive(); err != nil {
				observed <- err
				return
			}
		}
	}()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for i := 0; i < opts.rounds*contexts; i++ {
			if gctx.Err() != nil {
				return nil
			}
			id := 1 + i%(opts.sources-1)
			if i%2 == 0 {
				m.plic.SetSourcePending(id)
				continue
			}
			word := uint64(id / 32)
			if err := m.write(vplic.PendingOffset+4*word, 1<<(uint(id)%32)); err != nil {
				return fmt.Errorf("inject source %d: %w", id, err)
			}
		}
		return nil
	})

	for hart := 0; hart < contexts; hart++ {
		hart := hart
		claim := uint64(vplic.ContextCtrlOffset + hart*vplic.ContextStride + vplic.ClaimCompleteOffset)
		g.Go(func() error {
			for i := 0; i < opts.rounds; i++ {
				if gctx.Err() != nil {
					return nil
				}
				id, err := m.read(claim)
				if err != nil {
					return fmt.Errorf("context %d claim: %w", hart, err)
				}
				if id != vplic.NoInterrupt {
					if err := m.write(claim, id); err != nil {
						return fmt.Errorf("context %d complete %d: %w", hart, id, err)
					}
				}
				_ = bar.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	cancel()
	if oerr := <-observed; oerr != nil {
		return oerr
	}
	if err != nil {
		return err
	}
	_ = bar.Finish()

	if active := m.plic.ActiveSources(); len(active) != 0 {
		return fmt.Errorf("stress: sources left active after completion: %v", active)
	}

	stats := m.plic.Stats()
	elapsed := time.Since(start)
	slog.Debug("stress finished", "elapsed", elapsed, "stats", stats)
	fmt.Fprintf(out, "contexts=%d rounds=%d elapsed=%s\n", contexts, opts.rounds, elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "claims=%d empty=%d completes=%d injected=%d faults=%d pending=%d\n",
		stats.Claims, stats.EmptyClaims, stats.Completes, stats.Injected, stats.Faults, len(m.plic.PendingSources()))
	return nil
}
