package plugins

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"crashd/internal/dumpdir"
	"crashd/internal/plugin"
)

func newDump(t *testing.T, analyzer, executable string, fields map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "ccpp-1")
	d, err := dumpdir.Create(context.Background(), dir, 500, analyzer, executable)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer d.Close()
	for k, v := range fields {
		if err := d.Save(k, v); err != nil {
			t.Fatalf("Save %s: %v", k, err)
		}
	}
	return dir
}

func readField(t *testing.T, dir, key string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(data)
}

func TestCatalogRegistersBuiltins(t *testing.T) {
	catalog := plugin.Catalog()
	want := map[string]plugin.Type{
		"CCpp":               plugin.TypeAnalyzer,
		"Python":             plugin.TypeAnalyzer,
		"Kerneloops":         plugin.TypeAnalyzer,
		"SQLite3":            plugin.TypeDatabase,
		"RunApp":             plugin.TypeAction,
		"Logger":             plugin.TypeReporter,
		"Ntfy":               plugin.TypeReporter,
		"NATS":               plugin.TypeReporter,
		"KerneloopsReporter": plugin.TypeReporter,
	}
	for name, typ := range want {
		m, ok := catalog[name]
		if !ok {
			t.Fatalf("%s not registered", name)
		}
		if m.Magic != plugin.Magic || m.Type != typ {
			t.Fatalf("%s: magic=%d type=%v", name, m.Magic, m.Type)
		}
		p := m.New()
		switch typ {
		case plugin.TypeAnalyzer:
			_, ok = p.(plugin.Analyzer)
		case plugin.TypeAction:
			_, ok = p.(plugin.Action)
		case plugin.TypeReporter:
			_, ok = p.(plugin.Reporter)
		case plugin.TypeDatabase:
			_, ok = p.(plugin.Database)
		}
		if !ok {
			t.Fatalf("%s does not implement its declared type", name)
		}
	}
}

func TestCCppUUIDStableAcrossDumps(t *testing.T) {
	ctx := context.Background()
	bt := "#0  0x00007f in raise (sig=6) at raise.c:50\n#1  0x00007f in abort () at abort.c:79\n#2  0x000040 in main () at main.c:3\n"
	first := newDump(t, "CCpp", "/usr/bin/app", map[string]string{dumpdir.FieldBacktrace: bt, dumpdir.FieldPackage: "app-1.0-1"})
	second := newDump(t, "CCpp", "/usr/bin/app", map[string]string{dumpdir.FieldBacktrace: bt, dumpdir.FieldPackage: "app-1.1-2"})
	other := newDump(t, "CCpp", "/usr/bin/app", map[string]string{dumpdir.FieldReason: "Segfault"})

	c := newCCpp()
	a, err := c.UUID(ctx, first)
	if err != nil {
		t.Fatalf("UUID: %v", err)
	}
	b, _ := c.UUID(ctx, second)
	o, _ := c.UUID(ctx, other)
	if a != b {
		t.Fatalf("expected same uuid across package versions, got %s and %s", a, b)
	}
	if a == o {
		t.Fatal("expected different crashes to hash differently")
	}
}

func TestCCppCreateReportWithoutCore(t *testing.T) {
	dir := newDump(t, "CCpp", "/usr/bin/app", nil)
	c := newCCpp()
	c.run = func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("gdb must not run without a core dump")
		return nil, nil
	}
	if err := c.CreateReport(context.Background(), dir, false); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	if got := readField(t, dir, dumpdir.FieldBacktrace); !strings.Contains(got, "no core dump") {
		t.Fatalf("unexpected backtrace placeholder %q", got)
	}
}

func TestCCppCreateReportRunsDebugger(t *testing.T) {
	dir := newDump(t, "CCpp", "/usr/bin/app", map[string]string{dumpdir.FieldCoreDump: "core"})
	c := newCCpp()
	var gotArgs []string
	c.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte("#0  main () at main.c:1\n"), nil
	}
	if err := c.CreateReport(context.Background(), dir, false); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	if gotArgs[0] != "gdb" || gotArgs[len(gotArgs)-1] != filepath.Join(dir, dumpdir.FieldCoreDump) {
		t.Fatalf("unexpected gdb invocation %v", gotArgs)
	}
	if got := readField(t, dir, dumpdir.FieldBacktrace); !strings.HasPrefix(got, "#0  main") {
		t.Fatalf("backtrace not saved: %q", got)
	}

	c.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("must not rerun")
	}
	if err := c.CreateReport(context.Background(), dir, false); err != nil {
		t.Fatalf("expected existing backtrace to be kept, got %v", err)
	}
}

func TestPythonUUIDIgnoresLineNumbers(t *testing.T) {
	ctx := context.Background()
	tb := func(line string) string {
		return "Traceback (most recent call last):\n  File \"/usr/lib/app/main.py\", line " + line + ", in run\n    x()\nKeyError: 'a'\n"
	}
	first := newDump(t, "Python", "/usr/bin/app", map[string]string{dumpdir.FieldBacktrace: tb("10")})
	second := newDump(t, "Python", "/usr/bin/app", map[string]string{dumpdir.FieldBacktrace: tb("12")})
	p := newPython()
	a, err := p.UUID(ctx, first)
	if err != nil {
		t.Fatalf("UUID: %v", err)
	}
	b, _ := p.UUID(ctx, second)
	if a != b {
		t.Fatal("expected line shifts to keep the uuid")
	}
	if exceptionType(tb("1")) != "KeyError" {
		t.Fatalf("exceptionType = %q", exceptionType(tb("1")))
	}
}

func TestOopsSignatureDropsAddresses(t *testing.T) {
	a := "BUG: unable to handle kernel NULL pointer dereference at 0000000000000008\nCall Trace:\n [<ffffffff81>] foo_bar+0x12/0x40\n"
	b := "BUG: unable to handle kernel NULL pointer dereference at 0000000000000010\nCall Trace:\n [<ffffffff82>] foo_bar+0x14/0x40\n"
	sa, sb := oopsSignature(a), oopsSignature(b)
	if strings.Join(sa, "|") != strings.Join(sb, "|") {
		t.Fatalf("signatures differ: %v vs %v", sa, sb)
	}
	if sa[len(sa)-1] != "foo_bar" {
		t.Fatalf("expected call trace symbol, got %v", sa)
	}
}

func TestRunAppSavesOutput(t *testing.T) {
	dir := newDump(t, "CCpp", "/usr/bin/app", nil)
	r := newRunApp()
	if err := r.Run(context.Background(), dir, "echo hello,greeting"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := readField(t, dir, "greeting"); got != "hello\n" {
		t.Fatalf("greeting = %q", got)
	}
	if err := r.Run(context.Background(), dir, "exit 3"); err == nil {
		t.Fatal("expected failing command to error")
	}
}

func TestSplitRunAppArgs(t *testing.T) {
	tests := []struct{ in, cmd, field string }{
		{"date,stamp", "date", "stamp"},
		{"date", "date", ""},
		{"echo a, b c", "echo a, b c", ""},
		{"grep x /etc/os-release,release", "grep x /etc/os-release", "release"},
	}
	for _, tt := range tests {
		cmd, field := splitRunAppArgs(tt.in)
		if cmd != tt.cmd || field != tt.field {
			t.Fatalf("splitRunAppArgs(%q) = %q, %q", tt.in, cmd, field)
		}
	}
}

func TestSQLite3Database(t *testing.T) {
	ctx := context.Background()
	db := newSQLite3()
	if err := db.SetSettings(plugin.Settings{"DBPath": filepath.Join(t.TempDir(), "crashd.db")}); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	defer db.DeInit()

	if err := db.Insert(ctx, plugin.Row{UUID: "u", UID: "0", DumpDir: "/d"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.IncrementCount(ctx, "u", "0"); err != nil {
		t.Fatalf("IncrementCount: %v", err)
	}
	row, found, err := db.Lookup(ctx, "u", "0")
	if err != nil || !found || row.Count != 2 {
		t.Fatalf("Lookup = %+v, %v, %v", row, found, err)
	}
}

func TestLoggerReporterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.log")
	l := newLogger()
	_ = l.SetSettings(plugin.Settings{"LogPath": path})
	record := plugin.CrashRecord{
		plugin.RecordCrashID:    "500:abc",
		dumpdir.FieldExecutable: "/usr/bin/app",
		dumpdir.FieldBacktrace:  "#0 main\n#1 start\n",
	}
	for i := 0; i < 2; i++ {
		msg, err := l.Report(context.Background(), record, "")
		if err != nil {
			t.Fatalf("Report: %v", err)
		}
		if msg != "file://"+path {
			t.Fatalf("message = %q", msg)
		}
	}
	data, _ := os.ReadFile(path)
	if strings.Count(string(data), "crash_id: 500:abc") != 2 {
		t.Fatalf("expected two appended reports, got:\n%s", data)
	}
	if !strings.Contains(string(data), "backtrace\n---------\n#0 main") {
		t.Fatalf("expected backtrace section, got:\n%s", data)
	}

	_ = l.SetSettings(plugin.Settings{"LogPath": path, "AppendLogs": "no"})
	if _, err := l.Report(context.Background(), record, ""); err != nil {
		t.Fatalf("Report: %v", err)
	}
	data, _ = os.ReadFile(path)
	if strings.Count(string(data), "crash_id: 500:abc") != 1 {
		t.Fatalf("expected truncated log, got:\n%s", data)
	}
}

func TestNtfyReporterPosts(t *testing.T) {
	var (
		gotTitle string
		gotBody  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newNtfy()
	_ = n.SetSettings(plugin.Settings{"Topic": srv.URL + "/crashes"})
	msg, err := n.Report(context.Background(), plugin.CrashRecord{
		plugin.RecordCrashID:  "0:abc",
		dumpdir.FieldPackage:  "app-1.0-1",
		dumpdir.FieldAnalyzer: "CCpp",
	}, "")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if msg != srv.URL+"/crashes" {
		t.Fatalf("message = %q", msg)
	}
	if gotTitle != "crashd: CCpp crash in app-1.0-1" || !strings.Contains(gotBody, "crash_id: 0:abc") {
		t.Fatalf("unexpected request title=%q body=%q", gotTitle, gotBody)
	}
}

func TestNtfyReporterSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic reserved", http.StatusForbidden)
	}))
	defer srv.Close()

	n := newNtfy()
	_, err := n.Report(context.Background(), plugin.CrashRecord{}, srv.URL)
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic reserved") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := newNtfy().Report(context.Background(), plugin.CrashRecord{}, ""); err == nil {
		t.Fatal("expected missing topic error")
	}
}

func TestKerneloopsReporterSubmitsForm(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		values, _ := url.ParseQuery(string(body))
		got = values.Get("oopsdata")
	}))
	defer srv.Close()

	k := newKerneloopsReporter()
	_ = k.SetSettings(plugin.Settings{"SubmitURL": srv.URL})
	msg, err := k.Report(context.Background(), plugin.CrashRecord{dumpdir.FieldBacktrace: "BUG: oops"}, "")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if got != "BUG: oops" || !strings.Contains(msg, srv.URL) {
		t.Fatalf("got oopsdata=%q message=%q", got, msg)
	}
	if _, err := k.Report(context.Background(), plugin.CrashRecord{}, ""); err == nil {
		t.Fatal("expected error for record without oops text")
	}
}

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatal("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSReporterPublishes(t *testing.T) {
	srv := runNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("crashd.test", msgs); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	n := newNATS()
	_ = n.SetSettings(plugin.Settings{"URL": srv.ClientURL(), "Subject": "crashd.test"})
	defer n.DeInit()
	msg, err := n.Report(context.Background(), plugin.CrashRecord{plugin.RecordCrashID: "0:abc"}, "")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if msg != "nats://crashd.test" {
		t.Fatalf("message = %q", msg)
	}

	select {
	case m := <-msgs:
		if !strings.Contains(string(m.Data), `"crash_id":"0:abc"`) {
			t.Fatalf("unexpected payload %s", m.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published report")
	}
}
