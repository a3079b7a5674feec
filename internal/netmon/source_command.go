package netmon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// CommandSource reads monitor lines from the stdout of a long-running
// process. The process is restartable only by starting a new CommandSource.
type CommandSource struct {
	Path string
	Args []string
}

// NewIPMonitorSource watches address changes on iface with iproute2.
func NewIPMonitorSource(iface string) *CommandSource {
	return &CommandSource{
		Path: "ip",
		Args: []string{"monitor", "address", "label", "dev", iface},
	}
}

func (s *CommandSource) Name() string {
	return strings.Join(append([]string{s.Path}, s.Args...), " ")
}

func (s *CommandSource) Start(ctx context.Context, emit func(line string)) error {
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)

	stderr := log.StandardLogger().WriterLevel(log.WarnLevel)
	defer stderr.Close()
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout of %s: %w", s.Path, err)
	}

	log.WithField("command", s.Name()).Debug("Starting monitor command")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.Path, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		emit(scanner.Text())
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if scanErr != nil {
		return fmt.Errorf("read %s output: %w", s.Path, scanErr)
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return fmt.Errorf("%s exited with status %d: %w", s.Path, exitErr.ExitCode(), io.ErrUnexpectedEOF)
	}
	if waitErr != nil {
		return fmt.Errorf("wait for %s: %w", s.Path, waitErr)
	}
	return fmt.Errorf("%s exited: %w", s.Path, io.EOF)
}
