package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeTeam          = "team"
	ModeSupplier      = "supplier"
	ModeAdministrator = "administrator"
	ModeDemo          = "demo"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "config/config.yaml"

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch strings.ToLower(s) {
	case ModeTeam:
		return ModeTeam, true
	case ModeSupplier:
		return ModeSupplier, true
	case ModeAdministrator, "admin":
		return ModeAdministrator, true
	case ModeDemo:
		return ModeDemo, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `supplier --name="Supplier 1"`
//
// An unknown --mode value is an error; every other argument is returned for
// the mode's own flag set.
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--mode=") {
			mode = strings.TrimPrefix(arg, "--mode=")
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, nil
	}

	m, ok := isKnownMode(mode)
	if !ok {
		return "", out, fmt.Errorf("unknown mode %q", mode)
	}
	return m, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // switch the color to cyan

	fmt.Fprintln(w, `Usage:
  ./expedition --mode=<participant> [flags]

Participants (modes):
  team             Places equipment orders read from stdin, one type per line
  supplier         Confirms orders for the equipment types it stocks
  administrator    Broadcasts "<teams|suppliers|all> <text>" lines from stdin and watches all traffic
  demo             Runs two teams, two suppliers and the administrator in one process

Common flags:
  --config=<path>  YAML config file (default config/config.yaml)

Examples:
  ./expedition --mode=team --name="Team 1"
  ./expedition --mode=supplier --name="Supplier 1" --equipment=oxygen,boots
  ./expedition --mode=administrator
  ./expedition --mode=demo --broker=memory`)

	fmt.Fprint(w, "\033[0m") // switch back to normal
}

func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./expedition --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
