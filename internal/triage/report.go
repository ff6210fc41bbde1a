package triage

import (
	"context"
	"strconv"

	"crashd/internal/dumpdir"
	"crashd/internal/plugin"
)

// CreateReport lets the crash's analyzer fill in the report fields (a
// backtrace for native crashes), then returns the crash record.
func (e *Engine) CreateReport(ctx context.Context, row plugin.Row, force bool) (plugin.CrashRecord, error) {
	d, err := dumpdir.Open(ctx, row.DumpDir)
	if err != nil {
		return nil, err
	}
	name, err := d.Load(dumpdir.FieldAnalyzer)
	_ = d.Close()
	if err != nil {
		return nil, err
	}
	analyzer, err := e.registry.Analyzer(name)
	if err != nil {
		return nil, err
	}
	if err := analyzer.CreateReport(ctx, row.DumpDir, force); err != nil {
		return nil, &plugin.Error{Plugin: name, Op: "create report", Err: err}
	}
	return Record(ctx, row)
}

// Record projects a database row and its dump directory fields into a crash
// record. The binary core dump is left out.
func Record(ctx context.Context, row plugin.Row) (plugin.CrashRecord, error) {
	d, err := dumpdir.Open(ctx, row.DumpDir)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	fields, err := d.Fields(dumpdir.FieldCoreDump)
	if err != nil {
		return nil, err
	}

	record := plugin.CrashRecord(fields)
	record[plugin.RecordCrashID] = row.CrashID()
	record[plugin.RecordUUID] = row.UUID
	record[plugin.RecordUID] = row.UID
	record[plugin.RecordDumpDir] = row.DumpDir
	record[plugin.RecordCount] = strconv.Itoa(row.Count)
	record[dumpdir.FieldReported] = "no"
	if row.Reported {
		record[dumpdir.FieldReported] = "yes"
	}
	if row.Message != "" {
		record[dumpdir.FieldMessage] = row.Message
	}
	if _, ok := record[dumpdir.FieldTime]; !ok && row.Time > 0 {
		record[dumpdir.FieldTime] = strconv.FormatInt(row.Time, 10)
	}
	return record, nil
}
