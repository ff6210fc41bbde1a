package triage_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"crashd/internal/config"
	"crashd/internal/dumpdir"
	"crashd/internal/logging"
	"crashd/internal/packages"
	"crashd/internal/plugin"
	_ "crashd/internal/plugins"
	"crashd/internal/testsupport"
	"crashd/internal/triage"
)

type crashSignal struct{ pkg, uid string }

type recorder struct{ signals []crashSignal }

func (r *recorder) Crash(pkg, uid string) { r.signals = append(r.signals, crashSignal{pkg, uid}) }

type fixture struct {
	cfg      *config.Config
	resolver *testsupport.StubResolver
	registry *plugin.Registry
	engine   *triage.Engine
	signals  *recorder
}

func newFixture(t *testing.T, mutate func(*config.Config), opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithDatabaseFile()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	if mutate != nil {
		mutate(cfg)
	}
	f := &fixture{
		cfg:      cfg,
		resolver: testsupport.NewStubResolver(),
		signals:  &recorder{},
	}
	f.registry = plugin.NewRegistry(config.NewPluginSettingsStore(cfg.Paths.PluginConfDir), logging.NewNop())
	t.Cleanup(f.registry.UnloadAll)
	for _, name := range []string{"SQLite3", "CCpp", "Python", "Kerneloops"} {
		if _, err := f.registry.Load(name, false); err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
	}
	f.engine = triage.New(testsupport.Snapshot(t, cfg), packages.NewKeyring("0123456789abcdef"), f.registry, f.resolver, logging.NewNop(),
		triage.WithNotifier(f.signals),
		triage.WithHostname(func() (string, error) { return "testhost", nil }),
	)
	return f
}

func (f *fixture) dump(t *testing.T, name, analyzer, executable string, extra map[string]string) string {
	t.Helper()
	return testsupport.WriteDumpDir(t, f.cfg.Paths.DumpDir, name, 500, analyzer, executable, extra)
}

func field(t *testing.T, dir, key string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestUnpackagedExecutableAccepted(t *testing.T) {
	f := newFixture(t, nil, testsupport.WithProcessUnpackaged(true))
	dir := f.dump(t, "ccpp-1", "CCpp", "/usr/bin/true", nil)

	res, err := f.engine.HandleNew(context.Background(), "ccpp-1")
	if err != nil {
		t.Fatalf("HandleNew: %v", err)
	}
	if res.Outcome != triage.OK {
		t.Fatalf("outcome = %s (%s)", res.Outcome, res.Reason)
	}
	if got := field(t, dir, dumpdir.FieldPackage); got != "" {
		t.Fatalf("package = %q", got)
	}
	if got := field(t, dir, dumpdir.FieldDescription); got != triage.UnpackagedDescription {
		t.Fatalf("description = %q", got)
	}
	if got := field(t, dir, dumpdir.FieldHostname); got != "testhost" {
		t.Fatalf("hostname = %q", got)
	}
	if got := field(t, dir, dumpdir.FieldUUID); got != res.Row.UUID {
		t.Fatalf("uuid field %q does not match row %q", got, res.Row.UUID)
	}
	if len(f.signals.signals) != 1 || f.signals.signals[0] != (crashSignal{"/usr/bin/true", "500"}) {
		t.Fatalf("signals = %+v", f.signals.signals)
	}
}

func TestUnpackagedExecutableRejectedByPolicy(t *testing.T) {
	f := newFixture(t, nil)
	dir := f.dump(t, "ccpp-1", "CCpp", "/opt/app/bin/app", nil)

	res, err := f.engine.HandleNew(context.Background(), "ccpp-1")
	if err != nil {
		t.Fatalf("HandleNew: %v", err)
	}
	if res.Outcome != triage.PackageError {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if exists(dir) {
		t.Fatal("rejected dump must be deleted")
	}
	if len(f.signals.signals) != 0 {
		t.Fatal("rejected dump must not signal")
	}
}

func TestRemoteUnpackagedAccepted(t *testing.T) {
	f := newFixture(t, nil)
	dir := f.dump(t, "ccpp-1", "CCpp", "/opt/app/bin/app", map[string]string{dumpdir.FieldRemote: "1"})
	res, err := f.engine.Classify(context.Background(), dir)
	if err != nil || res.Outcome != triage.OK {
		t.Fatalf("Classify = %s, %v", res.Outcome, err)
	}
	if exists(filepath.Join(dir, dumpdir.FieldHostname)) {
		t.Fatal("remote dumps must keep their own hostname")
	}
}

func TestDuplicateLiveCrashKeepsBothAndSignals(t *testing.T) {
	f := newFixture(t, nil, testsupport.WithProcessUnpackaged(true))
	bt := map[string]string{dumpdir.FieldBacktrace: "#0  0x1 in crash () at a.c:1\n#1  0x2 in main () at a.c:9\n"}
	first := f.dump(t, "ccpp-1", "CCpp", "/usr/bin/app", bt)
	second := f.dump(t, "ccpp-2", "CCpp", "/usr/bin/app", bt)
	ctx := context.Background()

	r1, _ := f.engine.HandleNew(ctx, "ccpp-1")
	r2, err := f.engine.HandleNew(ctx, "ccpp-2")
	if err != nil {
		t.Fatalf("HandleNew: %v", err)
	}
	if r1.Outcome != triage.OK || r2.Outcome != triage.Occurred {
		t.Fatalf("outcomes = %s, %s", r1.Outcome, r2.Outcome)
	}
	if r2.Row.DumpDir != first || r2.Row.Count != 2 || r2.CrashID() != r1.CrashID() {
		t.Fatalf("duplicate row = %+v", r2.Row)
	}
	if !exists(first) || !exists(second) {
		t.Fatal("live duplicates are not deleted")
	}
	if len(f.signals.signals) != 2 {
		t.Fatalf("expected a signal per occurrence, got %d", len(f.signals.signals))
	}

	again, err := f.engine.Classify(ctx, first)
	if err != nil || again.Outcome != triage.InDB {
		t.Fatalf("reclassify first = %s, %v", again.Outcome, err)
	}
}

func TestReportedDuplicate(t *testing.T) {
	f := newFixture(t, nil, testsupport.WithProcessUnpackaged(true))
	ctx := context.Background()
	f.dump(t, "ccpp-1", "CCpp", "/usr/bin/app", nil)
	f.dump(t, "ccpp-2", "CCpp", "/usr/bin/app", nil)

	r1, _ := f.engine.HandleNew(ctx, "ccpp-1")
	db, err := f.registry.Database("SQLite3")
	if err != nil {
		t.Fatalf("Database: %v", err)
	}
	if err := db.SetReported(ctx, r1.Row.UUID, r1.Row.UID, "file:///tmp/r"); err != nil {
		t.Fatalf("SetReported: %v", err)
	}
	r2, _ := f.engine.HandleNew(ctx, "ccpp-2")
	if r2.Outcome != triage.Reported {
		t.Fatalf("outcome = %s", r2.Outcome)
	}
}

func TestScanExistingRemovesDuplicatesSilently(t *testing.T) {
	f := newFixture(t, nil, testsupport.WithProcessUnpackaged(true))
	a := f.dump(t, "a", "CCpp", "/usr/bin/app", nil)
	b := f.dump(t, "b", "CCpp", "/usr/bin/app", nil)
	broken := filepath.Join(f.cfg.Paths.DumpDir, "broken")
	if err := os.Mkdir(broken, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(f.cfg.Paths.DumpDir, "stray-file"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	counts := f.engine.ScanExisting(context.Background())
	if counts[triage.OK] != 1 || counts[triage.Occurred] != 1 || counts[triage.FileError] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if !exists(a) || exists(b) || exists(broken) {
		t.Fatalf("unexpected survivors: a=%v b=%v broken=%v", exists(a), exists(b), exists(broken))
	}
	if len(f.signals.signals) != 0 {
		t.Fatal("startup scan must not signal")
	}

	counts = f.engine.ScanExisting(context.Background())
	if counts[triage.InDB] != 1 {
		t.Fatalf("rescan counts = %v", counts)
	}
}

func TestBlacklists(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Common.Blacklist = []string{"bash"}
		cfg.Common.BlacklistedPaths = []string{"/usr/libexec/*"}
	})
	f.resolver.Install(testsupport.StubPackage{NVR: "bash-5.2-1.fc39"}, "/usr/bin/bash")
	ctx := context.Background()

	byPkg := f.dump(t, "pkg", "CCpp", "/usr/bin/bash", nil)
	byPath := f.dump(t, "path", "CCpp", "/usr/libexec/helper", nil)
	for _, dir := range []string{byPkg, byPath} {
		res, err := f.engine.Classify(ctx, dir)
		if err != nil || res.Outcome != triage.Blacklisted {
			t.Fatalf("%s: outcome = %s, %v", dir, res.Outcome, err)
		}
	}
	if f.resolver.Queries != 1 {
		t.Fatalf("blacklisted path must be rejected before the package query, got %d queries", f.resolver.Queries)
	}
}

func TestPackagedCrashIsEnriched(t *testing.T) {
	f := newFixture(t, nil)
	f.resolver.Install(testsupport.StubPackage{
		NVR:         "coreutils-9.3-1.fc39",
		Component:   "coreutils",
		Description: "GNU core utilities",
		KeyID:       "89abcdef",
	}, "/usr/bin/ls")
	dir := f.dump(t, "ccpp-1", "CCpp", "/usr/bin/ls", nil)

	res, err := f.engine.Classify(context.Background(), dir)
	if err != nil || res.Outcome != triage.OK {
		t.Fatalf("Classify = %s, %v", res.Outcome, err)
	}
	if field(t, dir, dumpdir.FieldPackage) != "coreutils-9.3-1.fc39" ||
		field(t, dir, dumpdir.FieldComponent) != "coreutils" ||
		field(t, dir, dumpdir.FieldDescription) != "GNU core utilities" {
		t.Fatal("package metadata not persisted")
	}
}

func TestSignatureCheck(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Common.OpenGPGCheck = true })
	f.resolver.Install(testsupport.StubPackage{NVR: "good-1-1", KeyID: "89abcdef"}, "/usr/bin/good")
	f.resolver.Install(testsupport.StubPackage{NVR: "evil-1-1", KeyID: "deadbeef"}, "/usr/bin/evil")
	f.resolver.Install(testsupport.StubPackage{NVR: "unsigned-1-1"}, "/usr/bin/unsigned")
	ctx := context.Background()

	tests := map[string]triage.Outcome{
		"/usr/bin/good":     triage.OK,
		"/usr/bin/evil":     triage.GPGError,
		"/usr/bin/unsigned": triage.GPGError,
	}
	for exe, want := range tests {
		dir := f.dump(t, filepath.Base(exe), "CCpp", exe, nil)
		res, err := f.engine.Classify(ctx, dir)
		if err != nil || res.Outcome != want {
			t.Fatalf("%s: outcome = %s, %v; want %s", exe, res.Outcome, err, want)
		}
	}

	remote := f.dump(t, "remote", "CCpp", "/usr/bin/evil", map[string]string{dumpdir.FieldRemote: "1"})
	if res, _ := f.engine.Classify(ctx, remote); res.Outcome != triage.OK {
		t.Fatalf("remote dumps skip the signature check, got %s", res.Outcome)
	}
}

func TestInterpreterScriptSubstitution(t *testing.T) {
	f := newFixture(t, nil)
	f.resolver.Install(testsupport.StubPackage{NVR: "python3-3.12.1-1.fc39"}, "/usr/bin/python3")
	f.resolver.Install(testsupport.StubPackage{NVR: "tool-1.0-1.fc39", Component: "tool"}, "/usr/bin/tool")
	tb := map[string]string{dumpdir.FieldBacktrace: "Traceback:\n  File \"/usr/bin/tool\", line 3, in main\nValueError: x\n"}
	ctx := context.Background()

	withScript := f.dump(t, "py-1", "Python", "/usr/bin/python3", merge(tb, dumpdir.FieldCmdline, "/usr/bin/python3 -u /usr/bin/tool --flag"))
	res, err := f.engine.Classify(ctx, withScript)
	if err != nil || res.Outcome != triage.OK {
		t.Fatalf("Classify = %s, %v", res.Outcome, err)
	}
	if res.Executable != "/usr/bin/tool" || field(t, withScript, dumpdir.FieldPackage) != "tool-1.0-1.fc39" {
		t.Fatalf("script not substituted: %s / %s", res.Executable, field(t, withScript, dumpdir.FieldPackage))
	}

	noScript := f.dump(t, "py-2", "Python", "/usr/bin/python3", merge(tb, dumpdir.FieldCmdline, "python3 relative.py"))
	if res, _ := f.engine.Classify(ctx, noScript); res.Outcome != triage.PackageError {
		t.Fatalf("unpackaged script outcome = %s", res.Outcome)
	}

	remoteTB := map[string]string{dumpdir.FieldBacktrace: "Traceback:\n  File \"/home/u/x.py\", line 8, in run\nKeyError: y\n"}
	remote := f.dump(t, "py-3", "Python", "/usr/bin/python3",
		merge(merge(remoteTB, dumpdir.FieldCmdline, "python3 /home/u/x.py"), dumpdir.FieldRemote, "1"))
	if res, _ := f.engine.Classify(ctx, remote); res.Outcome != triage.OK {
		t.Fatalf("remote interpreter crash outcome = %s", res.Outcome)
	}
}

func merge(in map[string]string, key, value string) map[string]string {
	out := map[string]string{key: value}
	for k, v := range in {
		out[k] = v
	}
	return out
}

func TestKernelOopsSignalsSystemUID(t *testing.T) {
	f := newFixture(t, nil)
	f.resolver.Install(testsupport.StubPackage{NVR: "kernel", Description: "The Linux kernel"})
	f.dump(t, "oops-1", "Kerneloops", dumpdir.KernelExecutable, map[string]string{
		dumpdir.FieldBacktrace: "BUG: unable to handle kernel paging request\nCall Trace:\n [<ffffffff81>] foo+0x1/0x2\n",
	})
	res, err := f.engine.HandleNew(context.Background(), "oops-1")
	if err != nil || res.Outcome != triage.OK {
		t.Fatalf("HandleNew = %s, %v", res.Outcome, err)
	}
	if len(f.signals.signals) != 1 || f.signals.signals[0] != (crashSignal{"kernel", "-1"}) {
		t.Fatalf("signals = %+v", f.signals.signals)
	}
	if f.resolver.Queries != 0 {
		t.Fatal("kernel dumps skip the path lookup")
	}
}

func TestCorruptedAndFileErrors(t *testing.T) {
	f := newFixture(t, nil, testsupport.WithProcessUnpackaged(true))
	ctx := context.Background()

	unknown := f.dump(t, "x-1", "NoSuchAnalyzer", "/usr/bin/app", nil)
	res, err := f.engine.Classify(ctx, unknown)
	if err != nil || res.Outcome != triage.Corrupted {
		t.Fatalf("unknown analyzer outcome = %s, %v", res.Outcome, err)
	}

	empty := filepath.Join(f.cfg.Paths.DumpDir, "empty")
	if err := os.Mkdir(empty, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	res, err = f.engine.Classify(ctx, empty)
	if err != nil || res.Outcome != triage.FileError {
		t.Fatalf("empty dir outcome = %s, %v", res.Outcome, err)
	}

	if _, err := f.engine.HandleNew(ctx, "does-not-exist"); err == nil {
		t.Fatal("expected error for missing entry")
	}
}

func TestMissingDatabaseLeavesDumpInPlace(t *testing.T) {
	f := newFixture(t, nil, testsupport.WithProcessUnpackaged(true))
	f.registry.Unload("SQLite3")
	dir := f.dump(t, "ccpp-1", "CCpp", "/usr/bin/app", nil)

	if _, err := f.engine.HandleNew(context.Background(), "ccpp-1"); err == nil {
		t.Fatal("expected classification error without a database")
	}
	if !exists(dir) {
		t.Fatal("unclassified dump must be kept")
	}
}

func TestActionsRunForNewCrash(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.AnalyzerActionsAndReporters = map[string][]string{"CCpp": {"RunApp(echo bound,bound_note)"}}
	},
		testsupport.WithProcessUnpackaged(true),
		testsupport.WithActions("RunApp(echo global,global_note)", "Missing"),
		testsupport.WithPluginSettings("RunApp", map[string]string{"Enabled": "yes"}),
	)
	dir := f.dump(t, "ccpp-1", "CCpp", "/usr/bin/app", nil)

	res, err := f.engine.HandleNew(context.Background(), "ccpp-1")
	if err != nil || res.Outcome != triage.OK {
		t.Fatalf("HandleNew = %s, %v", res.Outcome, err)
	}
	if field(t, dir, "bound_note") != "bound\n" || field(t, dir, "global_note") != "global\n" {
		t.Fatal("expected both analyzer-bound and global actions to run")
	}
}

func TestReporterReceivesRecord(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reports.log")
	f := newFixture(t, nil,
		testsupport.WithProcessUnpackaged(true),
		testsupport.WithActions("Logger("+logPath+")"),
		testsupport.WithPluginSettings("Logger", map[string]string{"Enabled": "yes"}),
	)
	f.dump(t, "ccpp-1", "CCpp", "/usr/bin/app", map[string]string{
		dumpdir.FieldCoreDump:  "\x7fELF",
		dumpdir.FieldBacktrace: "#0  0x1 in crash () at a.c:1\n",
	})

	res, err := f.engine.HandleNew(context.Background(), "ccpp-1")
	if err != nil || res.Outcome != triage.OK {
		t.Fatalf("HandleNew = %s, %v", res.Outcome, err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read report log: %v", err)
	}
	if want := "crash_id: " + res.CrashID(); !strings.Contains(string(data), want) {
		t.Fatalf("report log missing %q:\n%s", want, data)
	}
	if strings.Contains(string(data), "ELF") {
		t.Fatal("core dump must not be part of the record")
	}
}

func TestRecordDoesNotReadCoreDump(t *testing.T) {
	f := newFixture(t, nil, testsupport.WithProcessUnpackaged(true))
	dir := f.dump(t, "ccpp-1", "CCpp", "/usr/bin/app", nil)
	core, err := os.Create(filepath.Join(dir, dumpdir.FieldCoreDump))
	if err != nil {
		t.Fatalf("create core: %v", err)
	}
	if err := core.Truncate(64 << 20); err != nil {
		t.Fatalf("size core: %v", err)
	}
	_ = core.Close()

	ctx := context.Background()
	res, err := f.engine.HandleNew(ctx, "ccpp-1")
	if err != nil || res.Outcome != triage.OK {
		t.Fatalf("HandleNew = %s, %v", res.Outcome, err)
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	record, err := triage.Record(ctx, res.Row)
	runtime.ReadMemStats(&after)
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if _, ok := record[dumpdir.FieldCoreDump]; ok {
		t.Fatal("core dump must not be part of the record")
	}
	if grown := after.TotalAlloc - before.TotalAlloc; grown > 16<<20 {
		t.Fatalf("Record allocated %d bytes", grown)
	}
}
