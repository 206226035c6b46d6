package interp

import (
	"os"
	"os/exec"

	"github.com/buildkite/shellwords"
)

// io.go implements the thin OS wrappers §1 names as external collaborators
// with a fixed contract: READFILE/WRITEFILE read and write whole files,
// and CL runs a host command line. Splitting the command line into argv
// is grounded on zond-juicemud/game/wizcommands.go's use of
// buildkite/shellwords for the same job (splitting a user-typed command).

func readFileText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeFileText(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func runCommandLine(line string) (string, error) {
	parts, err := shellwords.SplitPosix(line)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", nil
	}
	out, err := exec.Command(parts[0], parts[1:]...).CombinedOutput()
	return string(out), err
}
