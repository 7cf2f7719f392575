package remote

import (
	"context"
	"fmt"
	"strings"
)

// readCrontab returns the current crontab, treating "no crontab" as an
// empty one.
func (m *Machine) readCrontab(ctx context.Context) (string, error) {
	result, err := m.ExecuteCommand(ctx, "crontab -l", defaultExecTimeout)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		if strings.Contains(result.Stderr, "no crontab") {
			return "", nil
		}
		return "", fmt.Errorf("crontab -l exited %d: %s", result.ExitCode, result.Stderr)
	}
	return result.Stdout, nil
}

func (m *Machine) writeCrontab(ctx context.Context, content string) error {
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	cmd := fmt.Sprintf("cat <<'FORGE_CRON_EOF' | crontab -\n%sFORGE_CRON_EOF", content)
	result, err := m.ExecuteCommand(ctx, cmd, defaultExecTimeout)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("crontab write exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

// AddCrontabEntry appends a line, preceded by a comment when given.
// An identical existing line is left alone.
func (m *Machine) AddCrontabEntry(ctx context.Context, line, comment string) error {
	current, err := m.readCrontab(ctx)
	if err != nil {
		return err
	}

	for _, existing := range strings.Split(current, "\n") {
		if strings.TrimSpace(existing) == strings.TrimSpace(line) {
			return nil
		}
	}

	var b strings.Builder
	b.WriteString(current)
	if current != "" && !strings.HasSuffix(current, "\n") {
		b.WriteString("\n")
	}
	if comment != "" {
		b.WriteString("# " + comment + "\n")
	}
	b.WriteString(line + "\n")

	return m.writeCrontab(ctx, b.String())
}

// AddRebootTask registers a named @reboot entry so the command reruns
// when the node restarts.
func (m *Machine) AddRebootTask(ctx context.Context, command, name string) error {
	return m.AddCrontabEntry(ctx, "@reboot "+command, name)
}

// RemoveRebootTaskByName drops the named comment line and the entry that
// follows it.
func (m *Machine) RemoveRebootTaskByName(ctx context.Context, name string) error {
	current, err := m.readCrontab(ctx)
	if err != nil {
		return err
	}
	if current == "" {
		return nil
	}

	lines := strings.Split(current, "\n")
	kept := make([]string, 0, len(lines))
	skipNext := false
	for _, line := range lines {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.TrimSpace(line) == "# "+name {
			skipNext = true
			continue
		}
		kept = append(kept, line)
	}

	return m.writeCrontab(ctx, strings.Join(kept, "\n"))
}
