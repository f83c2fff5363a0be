package shell

import (
	"fmt"
	"strings"
)

// sentinel separates command output from the trailing directory probe
// in the combined stdout stream.
const sentinel = "__END__"

// wireCodec turns a command into its wrapped shell form and splits the
// combined stdout back apart. All knowledge of the in-band marker lives
// here, so a structured reporting channel could replace it without
// touching the runner's callers.
type wireCodec struct{}

// encode wraps cmd so the shell reports its working directory after the
// command runs while preserving the command's exit status past the
// probe.
func (wireCodec) encode(cmd string) string {
	return fmt.Sprintf("%s;rc=$?;echo %s;pwd;exit $rc", cmd, sentinel)
}

// decode splits combined stdout into the command's own output and the
// directory reported by the probe. ok is false when the marker never
// reached stdout, which happens when the process dies before the probe
// runs; the caller then keeps its previous directory.
func (wireCodec) decode(combined string) (stdout, dir string, ok bool) {
	if !strings.Contains(combined, sentinel) {
		return strings.TrimSpace(combined), "", false
	}
	parts := strings.Split(combined, sentinel)
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[len(parts)-1]), true
}
