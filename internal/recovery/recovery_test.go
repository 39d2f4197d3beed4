package recovery

import (
	"bytes"
	"os"
	"os/exec"
	"testing"
)

func TestHandlePanic_NoPanic(t *testing.T) {
	// A clean tick loop iteration must pass through untouched
	func() {
		defer HandlePanic()
	}()
}

func TestHandlePanicFunc_NoPanic(t *testing.T) {
	cleanupCalled := false

	func() {
		defer HandlePanicFunc(func() {
			cleanupCalled = true
		})
	}()

	if cleanupCalled {
		t.Error("cleanup was called without a panic")
	}
}

func TestHandlePanicFunc_NilCleanup(t *testing.T) {
	func() {
		defer HandlePanicFunc(nil)
	}()
}

// TestHandlePanic_ExitsOnPanic uses a subprocess: HandlePanic calls os.Exit,
// which would otherwise kill the test binary.
func TestHandlePanic_ExitsOnPanic(t *testing.T) {
	if os.Getenv("BEATDETECT_PANIC_SUBPROCESS") == "1" {
		defer HandlePanic()
		panic("tick loop blew up")
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestHandlePanic_ExitsOnPanic")
	cmd.Env = append(os.Environ(), "BEATDETECT_PANIC_SUBPROCESS=1")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()

	if exitErr, ok := err.(*exec.ExitError); ok {
		if exitErr.ExitCode() != 1 {
			t.Errorf("exit code = %d, want 1", exitErr.ExitCode())
		}
	} else if err == nil {
		t.Error("expected process to exit with error, but it succeeded")
	}

	output := stderr.String()
	if !bytes.Contains([]byte(output), []byte("FATAL")) {
		t.Errorf("stderr should contain 'FATAL', got: %s", output)
	}
	if !bytes.Contains([]byte(output), []byte("tick loop blew up")) {
		t.Errorf("stderr should contain the panic value, got: %s", output)
	}
	if !bytes.Contains([]byte(output), []byte("Stack trace")) {
		t.Errorf("stderr should contain 'Stack trace', got: %s", output)
	}
}

// TestHandlePanicFunc_ExitsOnPanic verifies the cleanup hook runs before the
// exit - the path a session uses to release its capture device on a crash.
func TestHandlePanicFunc_ExitsOnPanic(t *testing.T) {
	if os.Getenv("BEATDETECT_PANIC_CLEANUP_SUBPROCESS") == "1" {
		defer HandlePanicFunc(func() {
			// Stands in for sess.Cleanup(); the marker proves it ran
			_, _ = os.Stdout.WriteString("SOURCE_RELEASED\n")
		})
		panic("session crashed mid-tick")
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestHandlePanicFunc_ExitsOnPanic")
	cmd.Env = append(os.Environ(), "BEATDETECT_PANIC_CLEANUP_SUBPROCESS=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if exitErr, ok := err.(*exec.ExitError); ok {
		if exitErr.ExitCode() != 1 {
			t.Errorf("exit code = %d, want 1", exitErr.ExitCode())
		}
	} else if err == nil {
		t.Error("expected process to exit with error, but it succeeded")
	}

	if !bytes.Contains(stdout.Bytes(), []byte("SOURCE_RELEASED")) {
		t.Errorf("stdout should contain 'SOURCE_RELEASED', got: %s", stdout.String())
	}
	if !bytes.Contains(stderr.Bytes(), []byte("session crashed mid-tick")) {
		t.Errorf("stderr should contain the panic value, got: %s", stderr.String())
	}
}
