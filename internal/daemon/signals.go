package daemon

import (
	"fmt"

	"crashd/internal/bus"
	"crashd/internal/logging"
	"crashd/internal/quota"
)

// Crash broadcasts a new or repeated crash. It satisfies triage.Notifier.
func (d *Daemon) Crash(pkg, uid string) {
	d.broadcast(bus.SignalCrash, bus.CrashSignal{Package: pkg, UID: uid})
}

func (d *Daemon) broadcast(member string, body any) {
	if d.server == nil {
		return
	}
	if err := d.server.Emit(member, body); err != nil {
		d.logger.Debug("signal not delivered to every client",
			logging.String("signal", member),
			logging.Error(err),
		)
	}
}

// warn and update go to the client that last asked for a report. They are
// dropped when that client is gone.
func (d *Daemon) warn(message string) { d.tell(bus.SignalWarning, message) }

func (d *Daemon) update(message string) { d.tell(bus.SignalUpdate, message) }

func (d *Daemon) tell(member, message string) {
	if d.server == nil || d.lastClient == "" {
		return
	}
	if err := d.server.EmitTo(d.lastClient, member, message); err != nil {
		d.logger.Debug("signal dropped",
			logging.String("signal", member),
			logging.String("client", d.lastClient),
			logging.Error(err),
		)
	}
}

func (d *Daemon) clientGone(name string) {
	if d.lastClient == name {
		d.lastClient = ""
	}
}

func (d *Daemon) quotaExceeded(name string, usage quota.Usage) {
	where := d.opts.ConfigPath
	if where == "" {
		where = "the daemon configuration"
	}
	message := fmt.Sprintf("Report size exceeded the quota. Please check system's MaxCrashReportsSize value in %s.", where)
	logging.WarnWithContext(d.logger, "dump root over quota, evicting", "quota_exceeded",
		logging.String("evicted", name),
		logging.Int64("total_mib", usage.TotalMiB()),
		logging.Int64("weight", usage.WorstWeight),
	)
	d.broadcast(bus.SignalQuotaExceeded, message)
}
