package interp

import (
	"io"

	"github.com/rodaine/table"
)

// repl_table.go backs the REPL's `.env` meta-command with a formatted
// dump of the universe scope, in the manner of zond-juicemud's
// game/stats_commands.go table.New(...).WithWriter(...) usage.
type envTable struct {
	w io.Writer
}

func newEnvTable(w io.Writer) *envTable {
	return &envTable{w: w}
}

// dump prints one row per local binding of env: name, declared type,
// value, and write-protection state.
func (t *envTable) dump(env *Environment) {
	tbl := table.New("Name", "Type", "Value", "Frozen").WithWriter(t.w)
	for _, name := range env.Names() {
		declaredType, v, initialized, frozen, permafrozen, aliasTarget, ok := env.Entry(name)
		if !ok {
			continue
		}
		if declaredType == "" {
			declaredType = "UNKNOWN"
		}
		display := "<uninitialized>"
		if aliasTarget != "" {
			display = "-> " + aliasTarget
		} else if initialized {
			display = displayValue(v)
		}
		state := ""
		switch {
		case permafrozen:
			state = "permafrozen"
		case frozen:
			state = "frozen"
		}
		tbl.AddRow(name, declaredType, display, state)
	}
	tbl.Print()
}
