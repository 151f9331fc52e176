package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/earthanddusk/hfbackup/internal/constants"
	"github.com/earthanddusk/hfbackup/internal/progress"
	"github.com/earthanddusk/hfbackup/internal/transfer"
)

// batch is one command's worth of tasks.
type batch struct {
	queue  string // config.QueueUpload or config.QueueDownload
	kind   transfer.Kind
	verb   string // progress prefix, e.g. "Uploading"
	params []transfer.Params
}

// runBatch enqueues every task, renders progress until the queue settles and
// prints the outcome. The first SIGINT/SIGTERM cancels everything and gives
// workers ShutdownGracePeriod to stop; a second one exits immediately.
func runBatch(ctx context.Context, a *app, b batch, out io.Writer) error {
	mode, err := progress.ParseMode(progressFlag)
	if err != nil {
		return err
	}

	m := transfer.NewManager(transfer.Options{
		Queue:       b.queue,
		Client:      a.router,
		Credentials: a.creds,
		Settings:    a.store,
		Limiters:    a.limiters,
		Events:      a.bus,
		Logger:      a.logger,
	})

	renderer := progress.New(mode, os.Stderr, b.verb)
	if board, ok := renderer.(*progress.Board); ok {
		a.logger.SetOutput(board.Writer())
	}
	events := a.bus.SubscribeAll()
	rendered := make(chan struct{})
	go func() {
		progress.Run(renderer, events)
		close(rendered)
	}()
	finish := func() {
		m.Close()
		a.bus.Close()
		<-rendered
		a.logger.SetOutput(os.Stderr)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if _, err := m.EnqueueBatch(b.params); err != nil {
		finish()
		return err
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- m.Wait(ctx) }()

	var (
		shutdownDone chan error
		forced       bool
	)
	for settled := false; !settled; {
		select {
		case <-waitDone:
			// After an interrupt, Shutdown reports the result instead.
			settled = shutdownDone == nil
		case err := <-shutdownDone:
			if errors.Is(err, transfer.ErrForcedShutdown) {
				forced = true
				a.logger.Warn().Dur("grace", constants.ShutdownGracePeriod).Msg("transfers did not stop in time; partial files may remain")
			}
			settled = true
		case sig := <-sigCh:
			if shutdownDone != nil {
				fmt.Fprintf(os.Stderr, "\nReceived %v again, exiting immediately\n", sig)
				os.Exit(130)
			}
			fmt.Fprintf(os.Stderr, "\nReceived %v, cancelling transfers (press Ctrl+C again to exit immediately)...\n", sig)
			shutdownDone = make(chan error, 1)
			go func() {
				sctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownGracePeriod)
				defer cancel()
				shutdownDone <- m.Shutdown(sctx)
			}()
		}
	}

	summary := m.Summary()
	finish()

	fmt.Fprintln(out, summary.Describe(b.kind))
	code := summary.ExitCode()
	if forced {
		code = 130
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
