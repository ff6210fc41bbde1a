package plugins

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"

	"crashd/internal/dumpdir"
)

var (
	oopsAddress = regexp.MustCompile(`\[<?[0-9a-fx]+>?\]|0x[0-9a-f]+|\b[0-9a-f]{8,16}\b`)
	oopsSymbol  = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.]*)\+0x[0-9a-f]+/0x[0-9a-f]+`)
)

type kerneloops struct {
	base
}

func newKerneloops() *kerneloops { return &kerneloops{} }

func (k *kerneloops) UUID(ctx context.Context, dir string) (string, error) {
	d, err := dumpdir.Open(ctx, dir)
	if err != nil {
		return "", err
	}
	defer d.Close()

	oops, err := d.Load(dumpdir.FieldBacktrace)
	if err != nil {
		return "", err
	}
	return contentUUID(oopsSignature(oops)...), nil
}

// oopsSignature keeps the oops headline without addresses plus the first
// call trace symbols, so the same bug hashes equally across boots.
func oopsSignature(oops string) []string {
	parts := []string{"Kerneloops"}
	lines := strings.Split(strings.TrimSpace(oops), "\n")
	if len(lines) > 0 {
		headline := oopsAddress.ReplaceAllString(lines[0], "")
		parts = append(parts, strings.Join(strings.Fields(headline), " "))
	}
	for _, m := range oopsSymbol.FindAllStringSubmatch(oops, -1) {
		parts = append(parts, m[1])
		if len(parts) == maxFrames+2 {
			break
		}
	}
	return parts
}

func (k *kerneloops) CreateReport(ctx context.Context, dir string, _ bool) error {
	d, err := dumpdir.Open(ctx, dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if !d.Has(dumpdir.FieldBacktrace) {
		return errors.New("kernel oops has no text")
	}
	if d.Has(dumpdir.FieldKernel) {
		return nil
	}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return err
	}
	return d.Save(dumpdir.FieldKernel, unix.ByteSliceToString(uts.Release[:]))
}
