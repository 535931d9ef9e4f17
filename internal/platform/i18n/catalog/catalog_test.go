package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmbeddedHasExpectedLocales(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	for _, locale := range []string{BaseLocale, "pt-BR"} {
		if !bundle.HasLocale(locale) {
			t.Fatalf("expected locale %s", locale)
		}
	}
	if _, ok := bundle.Message(BaseLocale, "profilecards.progress.applying"); !ok {
		t.Fatal("expected applying progress message")
	}
}

func TestLoadFromFSRejectsKeyOutsideNamespace(t *testing.T) {
	tempDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tempDir, "locales/en-US/profilecards.yaml"), `locale: "en-US"
namespace: "profilecards"
messages:
  "errors.bad": "nope"
`)

	if _, err := LoadFromFS(os.DirFS(tempDir)); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFromFSRejectsLocaleMismatch(t *testing.T) {
	tempDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tempDir, "locales/en-US/errors.yaml"), `locale: "pt-BR"
namespace: "errors"
messages:
  "errors.a": "a"
`)

	if _, err := LoadFromFS(os.DirFS(tempDir)); err == nil {
		t.Fatal("expected locale mismatch error")
	}
}

func TestLoadFromFSRequiresBaseLocale(t *testing.T) {
	tempDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tempDir, "locales/pt-BR/errors.yaml"), `locale: "pt-BR"
namespace: "errors"
messages:
  "errors.a": "a"
`)

	if _, err := LoadFromFS(os.DirFS(tempDir)); err == nil {
		t.Fatal("expected missing base locale error")
	}
}

func TestMessageFallsBackToBaseLocale(t *testing.T) {
	tempDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tempDir, "locales/en-US/errors.yaml"), `locale: "en-US"
namespace: "errors"
messages:
  "errors.a": "base a"
  "errors.b": "base b"
`)
	mustWriteFile(t, filepath.Join(tempDir, "locales/pt-BR/errors.yaml"), `locale: "pt-BR"
namespace: "errors"
messages:
  "errors.a": "pt a"
`)
	bundle, err := LoadFromFS(os.DirFS(tempDir))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got, _ := bundle.Message("pt-BR", "errors.a"); got != "pt a" {
		t.Fatalf("pt-BR errors.a = %q", got)
	}
	if got, _ := bundle.Message("pt-BR", "errors.b"); got != "base b" {
		t.Fatalf("pt-BR errors.b = %q, want base fallback", got)
	}
	if _, ok := bundle.Message("pt-BR", "errors.missing"); ok {
		t.Fatal("expected missing key")
	}
}

func TestNamespaceMessagesWithFallback(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	resolved, messages := bundle.NamespaceMessagesWithFallback("fr-FR", "errors")
	if resolved != BaseLocale {
		t.Fatalf("resolved locale = %q, want %s", resolved, BaseLocale)
	}
	if len(messages) == 0 {
		t.Fatal("expected fallback errors namespace messages")
	}
}

func TestPrinterFormatsLocalizedMessages(t *testing.T) {
	bundle := Default()

	got := bundle.Printer("pt-BR").Sprintf("profilecards.progress.applying", "/content/Home")
	if got != "Aplicando cartão de perfil ao item /content/Home" {
		t.Fatalf("pt-BR = %q", got)
	}
	got = bundle.Printer("").Sprintf("profilecards.progress.summary", 2, 1, 0)
	if got != "Applied to 2 item(s), skipped 1, failed 0" {
		t.Fatalf("default = %q", got)
	}
	got = bundle.Printer("fr-FR").Sprintf("profilecards.alert.finished")
	if got != "Finished applying profile scores" {
		t.Fatalf("fallback = %q", got)
	}
}

func mustWriteFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
