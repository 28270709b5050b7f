package testkit

import "testing"

const validScenario = `
name: single-process-boot
ram_bytes: 1048576
timer_hz: 100
files:
  - path: /init
    contents: "#!fake-elf"
processes:
  - name: init
    argv: ["/init"]
    envp: ["HOME=/"]
    elf_path: /init
`

func TestParseValidScenario(t *testing.T) {
	s, err := Parse([]byte(validScenario))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "single-process-boot" {
		t.Fatalf("Name = %q", s.Name)
	}
	if len(s.Processes) != 1 {
		t.Fatalf("expected 1 process, got %d", len(s.Processes))
	}
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := Parse([]byte("ram_bytes: 4096\ntimer_hz: 100\n"))
	if err == nil {
		t.Fatalf("expected missing name to be rejected")
	}
}

func TestParseRejectsUndeclaredELFReference(t *testing.T) {
	doc := `
name: broken
ram_bytes: 4096
timer_hz: 100
processes:
  - name: init
    elf_path: /missing
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected undeclared elf_path reference to be rejected")
	}
}

func TestBuildConstructsEnvironmentWithFixtures(t *testing.T) {
	s, err := Parse([]byte(validScenario))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	env, err := Build(s)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	f, err := env.VFS.Open("/init")
	if err != nil {
		t.Fatalf("Open fixture file: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 16)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "#!fake-elf" {
		t.Fatalf("fixture contents = %q, want %q", buf[:n], "#!fake-elf")
	}
}
