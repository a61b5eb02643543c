package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "direct NotFoundError",
			err:  NotFoundError{Entity: "test", Key: "k"},
			want: true,
		},
		{
			name: "wrapped NotFoundError",
			err:  fmt.Errorf("outer: %w", NotFoundError{Entity: "test"}),
			want: true,
		},
		{
			name: "double-wrapped NotFoundError",
			err:  fmt.Errorf("a: %w", fmt.Errorf("b: %w", NotFoundError{})),
			want: true,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "other error type",
			err:  errors.New("something"),
			want: false,
		},
		{
			name: "wrapped other error",
			err:  fmt.Errorf("wrap: %w", errors.New("x")),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  NotFoundError
		want string
	}{
		{
			name: "with key",
			err:  NotFoundError{Entity: "test", Key: "k"},
			want: "test k not found",
		},
		{
			name: "without key",
			err:  NotFoundError{Entity: "test"},
			want: "test not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// openTestStore opens a store under a throwaway home directory so tests never
// touch the real ~/.trestle tree.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	s, err := Open(Options{InstanceName: "test"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBridgeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveBridge(ctx, Bridge{Name: "office", Address: "wss://office.example/bridge", Token: "tok-1"}); err != nil {
		t.Fatalf("save bridge: %v", err)
	}

	got, err := s.GetBridge(ctx, "office")
	if err != nil {
		t.Fatalf("get bridge: %v", err)
	}
	if got.Address != "wss://office.example/bridge" {
		t.Errorf("address = %q", got.Address)
	}
	if got.Token != "tok-1" {
		t.Errorf("token = %q, want decrypted original", got.Token)
	}
	if !got.IsDefault {
		t.Error("first bridge should become the default")
	}

	if err := s.SaveBridge(ctx, Bridge{Name: "home", Address: "ws://localhost:7341"}); err != nil {
		t.Fatalf("save second bridge: %v", err)
	}
	second, err := s.GetBridge(ctx, "home")
	if err != nil {
		t.Fatalf("get second bridge: %v", err)
	}
	if second.IsDefault {
		t.Error("second bridge must not steal the default")
	}

	list, err := s.ListBridges(ctx)
	if err != nil {
		t.Fatalf("list bridges: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list returned %d bridges, want 2", len(list))
	}
	if list[0].Name != "home" || list[1].Name != "office" {
		t.Errorf("list order = [%s %s], want name order", list[0].Name, list[1].Name)
	}

	if err := s.SetDefaultBridge(ctx, "home"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	def, err := s.DefaultBridge(ctx)
	if err != nil {
		t.Fatalf("default bridge: %v", err)
	}
	if def.Name != "home" {
		t.Errorf("default = %q, want home", def.Name)
	}
	office, _ := s.GetBridge(ctx, "office")
	if office.IsDefault {
		t.Error("previous default should have been cleared")
	}

	if err := s.DeleteBridge(ctx, "office"); err != nil {
		t.Fatalf("delete bridge: %v", err)
	}
	if _, err := s.GetBridge(ctx, "office"); !IsNotFound(err) {
		t.Errorf("get after delete = %v, want not-found", err)
	}
	if err := s.DeleteBridge(ctx, "office"); !IsNotFound(err) {
		t.Errorf("double delete = %v, want not-found", err)
	}
	if err := s.SetDefaultBridge(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("set default on missing bridge = %v, want not-found", err)
	}
}

func TestSaveBridgeValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveBridge(ctx, Bridge{Name: "  ", Address: "ws://x"}); err == nil {
		t.Error("expected error for blank name")
	}
	if err := s.SaveBridge(ctx, Bridge{Name: "x", Address: ""}); err == nil {
		t.Error("expected error for blank address")
	}
}

func TestTokenEncryptedAtRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const secret = "very-secret-token"
	if err := s.SaveBridge(ctx, Bridge{Name: "b", Address: "ws://x", Token: secret}); err != nil {
		t.Fatalf("save bridge: %v", err)
	}

	var raw string
	if err := s.DB().QueryRowContext(ctx,
		`SELECT token FROM bridges WHERE name = ?`, "b",
	).Scan(&raw); err != nil {
		t.Fatalf("read raw token: %v", err)
	}

	if raw == secret {
		t.Fatal("token stored as plaintext")
	}
	if len(raw) < len(encPrefix) || raw[:len(encPrefix)] != encPrefix {
		t.Errorf("raw token %q missing %s prefix", raw, encPrefix)
	}

	got, err := s.GetBridge(ctx, "b")
	if err != nil {
		t.Fatalf("get bridge: %v", err)
	}
	if got.Token != secret {
		t.Errorf("round-tripped token = %q, want %q", got.Token, secret)
	}
}

func TestTokenSurvivesReopen(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ctx := context.Background()

	s, err := Open(Options{InstanceName: "test"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.SaveBridge(ctx, Bridge{Name: "b", Address: "ws://x", Token: "persisted"}); err != nil {
		t.Fatalf("save bridge: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(Options{InstanceName: "test"})
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetBridge(ctx, "b")
	if err != nil {
		t.Fatalf("get bridge after reopen: %v", err)
	}
	if got.Token != "persisted" {
		t.Errorf("token after reopen = %q, want %q", got.Token, "persisted")
	}
}

func TestVoiceSettingsDefaultsAndRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	settings, err := s.LoadVoiceSettings(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("load for unknown bridge: %v", err)
	}
	if settings != DefaultVoiceSettings() {
		t.Errorf("unknown bridge settings = %+v, want defaults", settings)
	}

	if err := s.SaveVoiceSettings(ctx, "nonexistent", DefaultVoiceSettings()); !IsNotFound(err) {
		t.Errorf("save for unknown bridge = %v, want not-found", err)
	}

	if err := s.SaveBridge(ctx, Bridge{Name: "b", Address: "ws://x"}); err != nil {
		t.Fatalf("save bridge: %v", err)
	}

	custom := DefaultVoiceSettings()
	custom.Detector.SpeechThreshold = -20
	custom.Detector.SilenceThreshold = -40
	custom.Cooldown = 2500 * time.Millisecond

	if err := s.SaveVoiceSettings(ctx, "b", custom); err != nil {
		t.Fatalf("save voice settings: %v", err)
	}
	got, err := s.LoadVoiceSettings(ctx, "b")
	if err != nil {
		t.Fatalf("load voice settings: %v", err)
	}
	if got != custom {
		t.Errorf("settings = %+v, want %+v", got, custom)
	}

	// Invalid tunings are rejected before touching the database.
	bad := custom
	bad.Detector.SilenceThreshold = -10
	if err := s.SaveVoiceSettings(ctx, "b", bad); err == nil {
		t.Error("expected validation error for inverted thresholds")
	}

	// Deleting the bridge cascades to its voice settings.
	if err := s.DeleteBridge(ctx, "b"); err != nil {
		t.Fatalf("delete bridge: %v", err)
	}
	after, err := s.LoadVoiceSettings(ctx, "b")
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if after != DefaultVoiceSettings() {
		t.Errorf("settings after delete = %+v, want defaults", after)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ctx := context.Background()

	rw, err := Open(Options{InstanceName: "test"})
	if err != nil {
		t.Fatalf("open rw store: %v", err)
	}
	if err := rw.SaveBridge(ctx, Bridge{Name: "b", Address: "ws://x", Token: "tok"}); err != nil {
		t.Fatalf("save bridge: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("close rw store: %v", err)
	}

	ro, err := Open(Options{InstanceName: "test", ReadOnly: true})
	if err != nil {
		t.Fatalf("open ro store: %v", err)
	}
	defer ro.Close()

	if err := ro.SaveBridge(ctx, Bridge{Name: "c", Address: "ws://y"}); err == nil {
		t.Error("expected read-only store to reject SaveBridge")
	}
	if err := ro.DeleteBridge(ctx, "b"); err == nil {
		t.Error("expected read-only store to reject DeleteBridge")
	}

	got, err := ro.GetBridge(ctx, "b")
	if err != nil {
		t.Fatalf("get bridge read-only: %v", err)
	}
	if got.Token != "tok" {
		t.Errorf("read-only token = %q, want decrypted original", got.Token)
	}
}
