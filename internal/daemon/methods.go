package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"crashd/internal/bus"
	"crashd/internal/config"
	"crashd/internal/dumpdir"
	"crashd/internal/logging"
	"crashd/internal/plugin"
	"crashd/internal/scheduler"
	"crashd/internal/triage"
)

var (
	errAccessDenied = errors.New("access denied")
	errInvalidArgs  = errors.New("invalid arguments")
	errNoSuchCrash  = errors.New("no such crash")
)

type handler func(ctx context.Context, req bus.Request) (any, error)

func (d *Daemon) methods() map[string]handler {
	return map[string]handler{
		bus.MethodGetCrashInfos:     d.getCrashInfos,
		bus.MethodCreateReport:      d.createReport,
		bus.MethodReport:            d.report,
		bus.MethodDeleteDebugDump:   d.deleteDebugDump,
		bus.MethodGetPluginsInfo:    d.getPluginsInfo,
		bus.MethodGetPluginSettings: d.getPluginSettings,
		bus.MethodSetPluginSettings: d.setPluginSettings,
		bus.MethodRegisterPlugin:    d.registerPlugin,
		bus.MethodUnRegisterPlugin:  d.unregisterPlugin,
		bus.MethodGetSettings:       d.getSettings,
		bus.MethodSetSettings:       d.setSettings,
	}
}

// dispatch runs one bus call to completion and replies.
func (d *Daemon) dispatch(req bus.Request) {
	logger := d.logger.With(
		logging.String("method", req.Member),
		logging.String("client", req.Sender),
		logging.Int("uid", req.UID),
	)
	h, ok := d.handlers[req.Member]
	if !ok {
		logger.Debug("unknown method")
		_ = d.server.ReplyError(req, bus.ErrorUnknownMethod, fmt.Errorf("unknown method %q", req.Member))
		return
	}
	logger.Debug("method call")
	result, err := h(d.ctx, req)
	if err != nil {
		logger.Info("method failed", logging.Error(err))
		_ = d.server.ReplyError(req, errorName(err), err)
		return
	}
	if err := d.server.Reply(req, result); err != nil {
		logger.Debug("reply not delivered", logging.Error(err))
	}
}

func errorName(err error) string {
	switch {
	case errors.Is(err, errAccessDenied):
		return bus.ErrorAccessDenied
	case errors.Is(err, errInvalidArgs), errors.Is(err, errNoSuchCrash):
		return bus.ErrorInvalidArgs
	default:
		return bus.ErrorFailed
	}
}

func decodeArgs(req bus.Request, v any) error {
	if err := req.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	return nil
}

func requireRoot(req bus.Request) error {
	if req.UID != 0 {
		return fmt.Errorf("%w: %s requires root", errAccessDenied, req.Member)
	}
	return nil
}

func (d *Daemon) database() (plugin.Database, error) {
	return d.registry.Database(d.engine.Policy().Database)
}

// lookupCrash resolves "<uid>:<uuid>" to its row, enforcing that only root
// or the crash owner may touch it.
func (d *Daemon) lookupCrash(ctx context.Context, req bus.Request, crashID string) (plugin.Row, plugin.Database, error) {
	uid, uuid, ok := strings.Cut(strings.TrimSpace(crashID), ":")
	if !ok || uid == "" || uuid == "" {
		return plugin.Row{}, nil, fmt.Errorf("%w: malformed crash id %q", errInvalidArgs, crashID)
	}
	db, err := d.database()
	if err != nil {
		return plugin.Row{}, nil, err
	}
	row, found, err := db.Lookup(ctx, uuid, uid)
	if err != nil {
		return plugin.Row{}, nil, err
	}
	if !found {
		return plugin.Row{}, nil, fmt.Errorf("%w: %s", errNoSuchCrash, crashID)
	}
	if req.UID != 0 && strconv.Itoa(req.UID) != row.UID {
		return plugin.Row{}, nil, fmt.Errorf("%w: crash %s belongs to uid %s", errAccessDenied, crashID, row.UID)
	}
	return row, db, nil
}

func (d *Daemon) getCrashInfos(ctx context.Context, req bus.Request) (any, error) {
	db, err := d.database()
	if err != nil {
		return nil, err
	}
	uid := ""
	if req.UID != 0 {
		uid = strconv.Itoa(req.UID)
	}
	rows, err := db.List(ctx, uid)
	if err != nil {
		return nil, err
	}
	infos := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		if _, err := os.Stat(row.DumpDir); errors.Is(err, fs.ErrNotExist) {
			d.logger.Info("dropping crash whose dump directory is gone",
				logging.CrashID(row.CrashID()),
				logging.DumpDir(row.DumpDir),
			)
			_ = db.Delete(ctx, row.UUID, row.UID)
			continue
		}
		record, err := triage.Record(ctx, row)
		if err != nil {
			logging.WarnWithContext(d.logger, "cannot read crash", "crash_read_failed",
				logging.CrashID(row.CrashID()),
				logging.Error(err),
			)
			continue
		}
		infos = append(infos, record)
	}
	return infos, nil
}

func (d *Daemon) createReport(ctx context.Context, req bus.Request) (any, error) {
	var crashID string
	if err := decodeArgs(req, &crashID); err != nil {
		return nil, err
	}
	d.lastClient = req.Sender
	row, _, err := d.lookupCrash(ctx, req, crashID)
	if err != nil {
		return nil, err
	}
	d.update("Creating report for " + crashID)
	record, err := d.engine.CreateReport(ctx, row, false)
	if err != nil {
		d.warn(err.Error())
		return nil, err
	}
	if err := d.server.EmitTo(req.Sender, bus.SignalJobDone, bus.JobDoneSignal{Client: req.Sender, CrashID: crashID}); err != nil {
		d.logger.Debug("JobDone not delivered", logging.Error(err))
	}
	return record, nil
}

// identityKeys cannot be overridden by a client-supplied record.
var identityKeys = []string{
	plugin.RecordCrashID,
	plugin.RecordUUID,
	plugin.RecordUID,
	plugin.RecordDumpDir,
	plugin.RecordCount,
	dumpdir.FieldReported,
}

func (d *Daemon) report(ctx context.Context, req bus.Request) (any, error) {
	var args bus.ReportRequest
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	if len(args.Reporters) == 0 {
		return nil, fmt.Errorf("%w: no reporters given", errInvalidArgs)
	}
	d.lastClient = req.Sender
	row, db, err := d.lookupCrash(ctx, req, args.Record[plugin.RecordCrashID])
	if err != nil {
		return nil, err
	}
	record, err := triage.Record(ctx, row)
	if err != nil {
		return nil, err
	}
	for key, value := range args.Record {
		if !slices.Contains(identityKeys, key) {
			record[key] = value
		}
	}

	results := make(map[string]bus.ReportResult, len(args.Reporters))
	for _, entry := range args.Reporters {
		spec, err := config.ParseActionSpec(entry)
		if err != nil {
			results[entry] = bus.ReportResult{Message: err.Error()}
			continue
		}
		d.update("Reporting via " + spec.Plugin)
		message, err := d.runReporter(ctx, spec, record, args.Overrides[spec.Plugin])
		if err != nil {
			d.warn(err.Error())
			results[spec.Plugin] = bus.ReportResult{Message: err.Error()}
			continue
		}
		if err := db.SetReported(ctx, row.UUID, row.UID, message); err != nil {
			d.logger.Warn("cannot mark crash reported", logging.CrashID(row.CrashID()), logging.Error(err))
		}
		results[spec.Plugin] = bus.ReportResult{Success: true, Message: message}
	}
	return results, nil
}

// runReporter applies per-call setting overrides for the duration of one
// report and restores the plugin's own settings afterwards.
func (d *Daemon) runReporter(ctx context.Context, spec config.ActionSpec, record plugin.CrashRecord, overrides map[string]string) (string, error) {
	reporter, err := d.registry.Reporter(spec.Plugin)
	if err != nil {
		return "", err
	}
	if len(overrides) > 0 {
		saved := reporter.Settings().Clone()
		merged := saved.Clone()
		maps.Copy(merged, overrides)
		if err := reporter.SetSettings(merged); err != nil {
			return "", &plugin.Error{Plugin: spec.Plugin, Op: "configure", Err: err}
		}
		defer func() { _ = reporter.SetSettings(saved) }()
	}
	message, err := reporter.Report(ctx, record, spec.Arg)
	if err != nil {
		return "", &plugin.Error{Plugin: spec.Plugin, Op: "report", Err: err}
	}
	return message, nil
}

func (d *Daemon) deleteDebugDump(ctx context.Context, req bus.Request) (any, error) {
	var crashID string
	if err := decodeArgs(req, &crashID); err != nil {
		return nil, err
	}
	row, db, err := d.lookupCrash(ctx, req, crashID)
	if err != nil {
		return nil, err
	}
	if err := dumpdir.Delete(ctx, row.DumpDir); err != nil {
		return nil, err
	}
	if err := db.Delete(ctx, row.UUID, row.UID); err != nil {
		return nil, err
	}
	d.logger.Info("crash deleted", logging.CrashID(crashID), logging.DumpDir(row.DumpDir))
	return true, nil
}

func (d *Daemon) getPluginsInfo(context.Context, bus.Request) (any, error) {
	infos := d.registry.Descriptors()
	out := make([]map[string]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Map())
	}
	return out, nil
}

func (d *Daemon) getPluginSettings(_ context.Context, req bus.Request) (any, error) {
	var name string
	if err := decodeArgs(req, &name); err != nil {
		return nil, err
	}
	settings, err := d.registry.PluginSettings(name)
	if err != nil {
		return nil, err
	}
	return map[string]string(settings), nil
}

func (d *Daemon) setPluginSettings(_ context.Context, req bus.Request) (any, error) {
	if err := requireRoot(req); err != nil {
		return nil, err
	}
	var args bus.PluginSettingsRequest
	if err := decodeArgs(req, &args); err != nil {
		return nil, err
	}
	return nil, d.registry.SetPluginSettings(args.Name, plugin.Settings(args.Settings))
}

func (d *Daemon) registerPlugin(_ context.Context, req bus.Request) (any, error) {
	if err := requireRoot(req); err != nil {
		return nil, err
	}
	var name string
	if err := decodeArgs(req, &name); err != nil {
		return nil, err
	}
	_, err := d.registry.Load(name, false)
	return nil, err
}

func (d *Daemon) unregisterPlugin(_ context.Context, req bus.Request) (any, error) {
	if err := requireRoot(req); err != nil {
		return nil, err
	}
	var name string
	if err := decodeArgs(req, &name); err != nil {
		return nil, err
	}
	d.registry.Unload(name)
	return nil, nil
}

func (d *Daemon) getSettings(context.Context, bus.Request) (any, error) {
	return d.cfg.Settings(), nil
}

func (d *Daemon) setSettings(ctx context.Context, req bus.Request) (any, error) {
	if err := requireRoot(req); err != nil {
		return nil, err
	}
	var values map[string]string
	if err := decodeArgs(req, &values); err != nil {
		return nil, err
	}
	return nil, d.ApplySettings(ctx, values)
}

// ApplySettings validates values against the current configuration and, on
// success, swaps in the new policy snapshot. The cron table is reinstalled
// only when it changed; a bad table leaves the old one running.
func (d *Daemon) ApplySettings(ctx context.Context, values map[string]string) error {
	next, err := d.cfg.ApplySettings(values)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	snap, err := next.Snapshot()
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}

	if !maps.EqualFunc(d.cfg.Cron, next.Cron, slices.Equal[[]string]) {
		sched := scheduler.New(d.reactor, d.runScheduled, d.logger)
		if err := sched.Install(ctx, next.Cron); err != nil {
			return fmt.Errorf("%w: %v", errInvalidArgs, err)
		}
		d.scheduler.Stop()
		d.scheduler = sched
	}
	keyring := d.keyring
	if !slices.Equal(d.cfg.Common.OpenGPGPublicKeys, next.Common.OpenGPGPublicKeys) {
		keyring = d.loadKeyring(next.Common.OpenGPGPublicKeys)
		d.keyring = keyring
	}
	if next.Common.Database != d.cfg.Common.Database {
		if _, err := d.registry.Load(next.Common.Database, false); err != nil {
			logging.WarnWithContext(d.logger, "new crash database unavailable", "database_unavailable",
				logging.Plugin(next.Common.Database),
				logging.Error(err),
			)
		}
	}

	d.engine.SetPolicy(snap, keyring)
	d.cfg = next
	d.logger.Info("settings updated", logging.Int("keys", len(values)))

	if d.opts.ConfigPath != "" {
		if err := next.Save(d.opts.ConfigPath); err != nil {
			logging.WarnWithContext(d.logger, "cannot persist settings", "settings_save_failed",
				logging.String("path", d.opts.ConfigPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "changes are lost on restart"),
			)
		}
	}
	return nil
}
