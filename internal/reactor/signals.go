package reactor

import (
	"os"
	"os/signal"

	"crashd/internal/logging"
)

// WatchSignals registers a termination-signal source. The handler only flags
// shutdown; the loop exits after the current pass. The returned function
// stops signal delivery.
func WatchSignals(r *Reactor, sigs ...os.Signal) (func(), error) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, sigs...)
	err := Watch[os.Signal](r, "signals", ch, func(sig os.Signal, ok bool) {
		if !ok {
			return
		}
		r.logger.Info("termination signal received", logging.String("signal", sig.String()))
		r.Shutdown("signal " + sig.String())
	})
	if err != nil {
		signal.Stop(ch)
		return nil, err
	}
	return func() { signal.Stop(ch) }, nil
}
