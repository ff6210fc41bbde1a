package triage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"crashd/internal/dumpdir"
	"crashd/internal/logging"
	"crashd/internal/packages"
	"crashd/internal/plugin"
)

// KerneloopsAnalyzer is the analyzer name of kernel oops dumps.
const KerneloopsAnalyzer = "Kerneloops"

// UnpackagedDescription is stored for crashes outside any installed package.
const UnpackagedDescription = "Crashed executable does not belong to any installed package"

var interpreters = map[string]struct{}{
	"python":  {},
	"python2": {},
	"python3": {},
	"perl":    {},
}

// identity is what Classify reads before it releases the directory lock.
type identity struct {
	executable string
	cmdline    string
	analyzer   string
	uid        string
	time       int64
	remote     bool
}

// metadata is what Classify writes back once package queries are done.
type metadata struct {
	pkg         string
	component   string
	description string
}

// Classify inspects one dump directory. A non-nil error means the directory
// could not be classified at all (for example the database plugin is
// unavailable) and must be left untouched.
func (e *Engine) Classify(ctx context.Context, path string) (Result, error) {
	res := Result{DumpDir: path}

	id, err := readIdentity(ctx, path)
	if err != nil {
		res.Outcome = FileError
		res.Reason = err.Error()
		return res, nil
	}
	res.Executable = id.executable
	res.Analyzer = id.analyzer
	res.UID = id.uid

	meta, outcome, reason := e.resolvePackage(ctx, &res, id)
	if outcome != OK {
		res.Outcome = outcome
		res.Reason = reason
		return res, nil
	}
	if err := e.persistMetadata(ctx, path, meta, id.remote); err != nil {
		res.Outcome = FileError
		res.Reason = err.Error()
		return res, nil
	}
	res.Package = meta.pkg

	return e.deduplicate(ctx, res, id)
}

func readIdentity(ctx context.Context, path string) (identity, error) {
	d, err := dumpdir.Open(ctx, path)
	if err != nil {
		return identity{}, err
	}
	defer d.Close()

	executable, err := d.Load(dumpdir.FieldExecutable)
	if err != nil {
		return identity{}, err
	}
	uid, err := d.UID()
	if err != nil {
		return identity{}, err
	}
	ts, _ := strconv.ParseInt(strings.TrimSpace(d.LoadOptional(dumpdir.FieldTime)), 10, 64)
	return identity{
		executable: strings.TrimSpace(executable),
		cmdline:    strings.TrimSpace(d.LoadOptional(dumpdir.FieldCmdline)),
		analyzer:   strings.TrimSpace(d.LoadOptional(dumpdir.FieldAnalyzer)),
		uid:        strconv.Itoa(uid),
		time:       ts,
		remote:     d.IsRemote(),
	}, nil
}

// resolvePackage runs the package policy with the directory unlocked.
func (e *Engine) resolvePackage(ctx context.Context, res *Result, id identity) (metadata, Outcome, string) {
	policy := e.policy
	if id.executable == dumpdir.KernelExecutable {
		meta := metadata{pkg: "kernel", component: "kernel"}
		if desc, err := e.resolver.Description(ctx, "kernel"); err == nil {
			meta.description = desc
		}
		return meta, OK, ""
	}

	executable := id.executable
	if policy.PathBlacklisted(executable) {
		return metadata{}, Blacklisted, "blacklisted executable " + executable
	}

	nvr, err := e.resolver.PackageForPath(ctx, executable)
	if err != nil {
		e.logger.Warn("package lookup failed",
			logging.DumpDir(res.DumpDir),
			logging.String("executable", executable),
			logging.Error(err),
			logging.String(logging.FieldEventType, "package_lookup_failed"),
		)
	}
	if nvr == "" {
		if policy.ProcessUnpackaged || id.remote {
			e.logger.Debug("crash in unpackaged executable, proceeding without packaging information",
				logging.String("executable", executable))
			return metadata{description: UnpackagedDescription}, OK, ""
		}
		return metadata{}, PackageError, fmt.Sprintf("executable %s does not belong to any package", executable)
	}

	if _, ok := interpreters[filepath.Base(executable)]; ok {
		var scriptPkg string
		if script := scriptArgument(id.cmdline); script != "" {
			scriptPkg, _ = e.resolver.PackageForPath(ctx, script)
			if scriptPkg != "" {
				nvr = scriptPkg
				executable = script
				res.Executable = script
				if policy.PathBlacklisted(executable) {
					return metadata{}, Blacklisted, "blacklisted executable " + executable
				}
			}
		}
		if scriptPkg == "" && !policy.ProcessUnpackaged && !id.remote {
			return metadata{}, PackageError, "interpreter crashed, but no packaged script detected: " + id.cmdline
		}
	}

	short := packages.ShortName(nvr)
	if policy.PackageBlacklisted(short) {
		return metadata{}, Blacklisted, "blacklisted package " + short
	}

	if policy.OpenGPGCheck && !id.remote {
		keyID, err := e.resolver.SigningKeyID(ctx, nvr)
		if err != nil || !e.keyring.Trusts(keyID) {
			return metadata{}, GPGError, fmt.Sprintf("package %s isn't signed with proper key", short)
		}
	}

	meta := metadata{pkg: nvr}
	if component, err := e.resolver.Component(ctx, nvr); err == nil {
		meta.component = component
	}
	if desc, err := e.resolver.Description(ctx, nvr); err == nil {
		meta.description = desc
	}
	return meta, OK, ""
}

// scriptArgument returns the first argument after the interpreter that is
// not an option, when it is an absolute path.
func scriptArgument(cmdline string) string {
	fields := strings.Fields(cmdline)
	for _, arg := range fields[min(1, len(fields)):] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if strings.HasPrefix(arg, "/") {
			return arg
		}
		return ""
	}
	return ""
}

func (e *Engine) persistMetadata(ctx context.Context, path string, meta metadata, remote bool) error {
	d, err := dumpdir.Open(ctx, path)
	if err != nil {
		return err
	}
	defer d.Close()

	fields := []struct{ key, value string }{
		{dumpdir.FieldPackage, meta.pkg},
		{dumpdir.FieldComponent, meta.component},
		{dumpdir.FieldDescription, meta.description},
	}
	if !remote {
		host, err := e.hostname()
		if err != nil {
			host = ""
		}
		fields = append(fields, struct{ key, value string }{dumpdir.FieldHostname, host})
	}
	for _, f := range fields {
		if err := d.Save(f.key, f.value); err != nil {
			return err
		}
	}
	return nil
}

// deduplicate derives the crash uuid and matches it against the database.
func (e *Engine) deduplicate(ctx context.Context, res Result, id identity) (Result, error) {
	db, err := e.registry.Database(e.policy.Database)
	if err != nil {
		return res, fmt.Errorf("crash database: %w", err)
	}
	analyzer, err := e.registry.Analyzer(id.analyzer)
	if err != nil {
		res.Outcome = Corrupted
		res.Reason = err.Error()
		return res, nil
	}
	uuid, err := analyzer.UUID(ctx, res.DumpDir)
	if err != nil || uuid == "" {
		res.Outcome = Corrupted
		res.Reason = fmt.Sprintf("analyzer %s: cannot compute uuid: %v", id.analyzer, err)
		return res, nil
	}

	row, found, err := db.Lookup(ctx, uuid, id.uid)
	if err != nil {
		return res, fmt.Errorf("lookup crash: %w", err)
	}
	switch {
	case !found:
		row = plugin.Row{UUID: uuid, UID: id.uid, DumpDir: res.DumpDir, Count: 1, Time: id.time}
		if err := db.Insert(ctx, row); err != nil {
			return res, fmt.Errorf("insert crash: %w", err)
		}
		res.Outcome = OK
	case row.DumpDir == res.DumpDir:
		res.Outcome = InDB
	default:
		if err := db.IncrementCount(ctx, uuid, id.uid); err != nil {
			return res, fmt.Errorf("count crash: %w", err)
		}
		row.Count++
		res.Outcome = Occurred
		if row.Reported {
			res.Outcome = Reported
		}
	}
	res.Row = row

	if err := persistUUID(ctx, res.DumpDir, uuid); err != nil && !errors.Is(err, dumpdir.ErrUUIDSet) {
		e.logger.Warn("could not persist crash uuid",
			logging.DumpDir(res.DumpDir),
			logging.Error(err),
			logging.String(logging.FieldEventType, "uuid_persist_failed"),
		)
	}
	return res, nil
}

func persistUUID(ctx context.Context, path, uuid string) error {
	d, err := dumpdir.Open(ctx, path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Save(dumpdir.FieldUUID, uuid)
}
